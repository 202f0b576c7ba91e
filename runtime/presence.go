package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"time"
)

// Presence announces connection lifecycle transitions to every live
// connection. This fan-out is deliberately global (membership
// independent), unlike the room-scoped message delivery in the message
// pipeline.
type Presence struct {
	log         *slog.Logger
	registry    contract.IRegistry
	sinkTimeout time.Duration
}

func NewPresence(log *slog.Logger, registry contract.IRegistry, sinkTimeout time.Duration) *Presence {
	return &Presence{log: log, registry: registry, sinkTimeout: sinkTimeout}
}

// Connect registers the sink, sends the connecting user the current
// online snapshot, then announces user_online to everyone else. The
// snapshot is taken after registration so it includes the user
// themselves.
func (p *Presence) Connect(ctx context.Context, userID string, sink contract.EventSink) {
	p.registry.Register(userID, sink)

	p.deliver(ctx, userID, sink, event.NewOnlineUsersList(p.registry.SnapshotUserIDs()))
	p.broadcastExcept(ctx, userID, event.NewUserOnline(userID))
}

// Disconnect unregisters the sink and announces user_offline, but only
// when this sink was the one actually registered: a superseded or
// repeated disconnect must not produce a spurious offline transition.
func (p *Presence) Disconnect(ctx context.Context, userID string, sink contract.EventSink) {
	if !p.registry.Unregister(userID, sink) {
		return
	}
	p.broadcastExcept(ctx, userID, event.NewUserOffline(userID))
}

// Broadcast delivers an event to every live connection, best effort.
func (p *Presence) Broadcast(ctx context.Context, e event.Event) {
	p.broadcastExcept(ctx, "", e)
}

func (p *Presence) broadcastExcept(ctx context.Context, excludedUserID string, e event.Event) {
	for _, userID := range p.registry.SnapshotUserIDs() {
		if userID == excludedUserID {
			continue
		}
		sink, ok := p.registry.Lookup(userID)
		if !ok {
			continue
		}
		p.deliver(ctx, userID, sink, e)
	}
}

// deliver pushes one event to one peer with a bounded timeout. A slow
// or broken peer is logged and skipped; it never aborts delivery to the
// remaining peers nor surfaces to the triggering user's flow.
func (p *Presence) deliver(ctx context.Context, userID string, sink contract.EventSink, e event.Event) {
	sendCtx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sendCtx, e); err != nil {
		p.log.Debug("Presence delivery failed", "user_id", userID, "event", e.EventName(), "err", err)
	}
}
