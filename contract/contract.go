//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain/event"
	"context"
	"reflect"
)

// EventSink is a live connection the server can push events to.
// Implementations must be safe for concurrent Consume calls and must
// never block forever: a slow or broken transport returns an error
// instead of stalling the caller.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// IRegistry tracks at most one live sink per user id.
type IRegistry interface {
	// Register unconditionally overwrites any existing mapping.
	Register(userID string, sink EventSink)
	// Unregister removes the mapping only if the stored sink is the
	// caller's own; it reports whether a removal happened.
	Unregister(userID string, sink EventSink) bool
	Lookup(userID string) (EventSink, bool)
	SnapshotUserIDs() []string
}

// IPresence is the connect/disconnect lifecycle plus the global,
// membership-independent broadcast used by presence-style events.
type IPresence interface {
	Connect(ctx context.Context, userID string, sink EventSink)
	Disconnect(ctx context.Context, userID string, sink EventSink)
	Broadcast(ctx context.Context, e event.Event)
}

// ITokenVerifier maps an opaque credential to a user id or rejects it.
// The issuing side lives outside the core.
type ITokenVerifier interface {
	Verify(token string) (string, error)
}

// INotifier is the out-of-band delivery fallback for participants with
// no live connection.
type INotifier interface {
	Notify(ctx context.Context, userID string, payload []byte) error
}

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
