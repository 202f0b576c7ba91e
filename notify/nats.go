// Package notify is the out-of-band delivery fallback: participants
// without a live connection get their new_message payload published to
// a per-user NATS subject, picked up by whatever push pipeline the
// deployment runs.
package notify

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "notify.user."

type NatsNotifier struct {
	log *slog.Logger
	nc  *nats.Conn
}

func NewNatsNotifier(log *slog.Logger, url string) (*NatsNotifier, error) {
	nc, err := nats.Connect(url, nats.Name("chat-relay"))
	if err != nil {
		return nil, err
	}
	return &NatsNotifier{log: log, nc: nc}, nil
}

func (n *NatsNotifier) Notify(_ context.Context, userID string, payload []byte) error {
	return n.nc.Publish(subjectPrefix+userID, payload)
}

func (n *NatsNotifier) Close() {
	if err := n.nc.Drain(); err != nil {
		n.log.Warn("Failed to drain NATS connection", "err", err)
	}
}

// NoopNotifier stands in when no NATS url is configured; offline
// participants then rely on history replay alone.
type NoopNotifier struct {
	log *slog.Logger
}

func NewNoopNotifier(log *slog.Logger) NoopNotifier {
	return NoopNotifier{log: log}
}

func (n NoopNotifier) Notify(_ context.Context, userID string, _ []byte) error {
	n.log.Debug("No notifier configured, dropping offline notification", "user_id", userID)
	return nil
}
