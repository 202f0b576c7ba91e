package services

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type messageServiceFixture struct {
	rooms      *mocks.MockIRoomRepository
	messages   *mocks.MockIMessageRepository
	receipts   *mocks.MockIReceiptRepository
	search     *mocks.MockISearchRepository
	registry   *mocks.MockIRegistry
	notifier   *mocks.MockINotifier
	indexQueue chan domain.Message
	service    *MessageService
}

func newMessageServiceFixture(t *testing.T, ctrl *gomock.Controller) messageServiceFixture {
	t.Helper()
	moderator, err := moderation.NewModerator([]string{"badword"}, '*')
	require.NoError(t, err)

	f := messageServiceFixture{
		rooms:      mocks.NewMockIRoomRepository(ctrl),
		messages:   mocks.NewMockIMessageRepository(ctrl),
		receipts:   mocks.NewMockIReceiptRepository(ctrl),
		search:     mocks.NewMockISearchRepository(ctrl),
		registry:   mocks.NewMockIRegistry(ctrl),
		notifier:   mocks.NewMockINotifier(ctrl),
		indexQueue: make(chan domain.Message, 8),
	}
	f.service = NewMessageService(slog.Default(),
		f.rooms, f.messages, f.receipts, f.search,
		f.registry, f.notifier, moderator, f.indexQueue,
		100*time.Millisecond, 500, 50)
	return f
}

func TestMessageService_Send(t *testing.T) {
	ctx := context.Background()
	room := domain.RoomID("room-1")

	t.Run("should reject empty content before any storage access", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		// Storage and authorization must never be consulted
		f.messages.EXPECT().StoreMessage(gomock.Any()).Times(0)
		f.rooms.EXPECT().IsParticipant(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.Send(ctx, "alice", room, "   \t  ")

		req.ErrorIs(err, errors.ErrEmptyContent)
	})

	t.Run("should reject content above the maximum length", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.messages.EXPECT().StoreMessage(gomock.Any()).Times(0)

		_, err := f.service.Send(ctx, "alice", room, strings.Repeat("x", 501))

		req.ErrorIs(err, errors.ErrContentTooLong)
	})

	t.Run("should reject a sender who is not a participant", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.rooms.EXPECT().IsParticipant("carol", room).Return(false, nil)
		f.messages.EXPECT().StoreMessage(gomock.Any()).Times(0)

		_, err := f.service.Send(ctx, "carol", room, "let me in")

		req.ErrorIs(err, errors.ErrNotParticipant)
	})

	t.Run("should persist, fan out to online participants and notify the offline ones", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.rooms.EXPECT().IsParticipant("alice", room).Return(true, nil)

		var stored domain.Message
		f.messages.EXPECT().StoreMessage(gomock.Any()).DoAndReturn(func(m domain.Message) error {
			stored = m
			return nil
		})

		f.rooms.EXPECT().ListParticipantIDs(room).Return([]string{"alice", "bob", "carol"}, nil)

		aliceSink := mocks.NewMockEventSink(ctrl)
		bobSink := mocks.NewMockEventSink(ctrl)
		f.registry.EXPECT().Lookup("alice").Return(aliceSink, true)
		f.registry.EXPECT().Lookup("bob").Return(bobSink, true)
		f.registry.EXPECT().Lookup("carol").Return(nil, false)

		// Online participants get the event pushed
		var delivered event.NewMessage
		aliceSink.EXPECT().Consume(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e event.Event) error {
				delivered = e.(event.NewMessage)
				return nil
			})
		bobSink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil)

		// The offline participant goes through the notifier instead
		f.notifier.EXPECT().Notify(gomock.Any(), "carol", gomock.Any()).Return(nil)

		message, err := f.service.Send(ctx, "alice", room, "hello everyone")

		req.NoError(err)
		req.Equal(stored, message)
		req.Equal("hello everyone", message.Content)
		req.Equal("alice", message.SenderID)
		req.False(message.CreatedAt.IsZero())

		req.Equal(event.NameNewMessage, delivered.Event)
		req.Equal(message.ID.String(), delivered.MessageID)
		req.Equal([]string{"alice"}, delivered.ReadBy)

		// And the message was queued for indexing
		select {
		case queued := <-f.indexQueue:
			req.Equal(message.ID, queued.ID)
		default:
			req.Fail("expected a message on the index queue")
		}
	})

	t.Run("should censor forbidden words before persisting", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.rooms.EXPECT().IsParticipant("alice", room).Return(true, nil)
		var stored domain.Message
		f.messages.EXPECT().StoreMessage(gomock.Any()).DoAndReturn(func(m domain.Message) error {
			stored = m
			return nil
		})
		f.rooms.EXPECT().ListParticipantIDs(room).Return([]string{"alice"}, nil)
		f.registry.EXPECT().Lookup("alice").Return(nil, false)
		f.notifier.EXPECT().Notify(gomock.Any(), "alice", gomock.Any()).Return(nil)

		_, err := f.service.Send(ctx, "alice", room, "what a badword day")

		req.NoError(err)
		req.Equal("what a ******* day", stored.Content)
	})

	t.Run("should not fail the send when a delivery fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.rooms.EXPECT().IsParticipant("alice", room).Return(true, nil)
		f.messages.EXPECT().StoreMessage(gomock.Any()).Return(nil)
		f.rooms.EXPECT().ListParticipantIDs(room).Return([]string{"alice", "bob"}, nil)

		brokenSink := mocks.NewMockEventSink(ctrl)
		brokenSink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(context.DeadlineExceeded)
		healthySink := mocks.NewMockEventSink(ctrl)
		healthySink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil)
		f.registry.EXPECT().Lookup("alice").Return(brokenSink, true)
		f.registry.EXPECT().Lookup("bob").Return(healthySink, true)

		_, err := f.service.Send(ctx, "alice", room, "hello")

		req.NoError(err)
	})
}

func TestMessageService_History(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newMessageServiceFixture(t, ctrl)
	req := require.New(t)

	room := domain.RoomID("room-1")
	first := domain.Message{ID: uuid.New(), RoomID: room, SenderID: "alice", Content: "hi"}
	second := domain.Message{ID: uuid.New(), RoomID: room, SenderID: "bob", Content: "hey"}

	f.messages.EXPECT().GetMessages(room).Return([]domain.Message{first, second}, nil)
	f.receipts.EXPECT().ListReaders(first.ID).Return([]string{"alice", "bob"}, nil)
	f.receipts.EXPECT().ListReaders(second.ID).Return([]string{"bob"}, nil)

	history, err := f.service.History(context.Background(), room)

	req.NoError(err)
	req.Len(history, 2)
	req.Equal(first, history[0].Message)
	req.Equal([]string{"alice", "bob"}, history[0].ReadBy)
	req.Equal([]string{"bob"}, history[1].ReadBy)
}

func TestMessageService_Search(t *testing.T) {
	room := domain.RoomID("room-1")

	t.Run("should refuse a non participant", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		f.rooms.EXPECT().IsParticipant("carol", room).Return(false, nil)
		f.search.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := f.service.Search(context.Background(), "carol", room, "pizza")

		req.ErrorIs(err, errors.ErrNotParticipant)
	})

	t.Run("should resolve index hits and skip stale ids", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newMessageServiceFixture(t, ctrl)
		req := require.New(t)

		found := domain.Message{ID: uuid.New(), RoomID: room, SenderID: "alice", Content: "pizza time"}
		staleID := uuid.New()

		f.rooms.EXPECT().IsParticipant("alice", room).Return(true, nil)
		f.search.EXPECT().Search(gomock.Any(), room, "pizza", 50).Return([]uuid.UUID{found.ID, staleID}, nil)
		f.messages.EXPECT().GetMessage(found.ID).Return(found, nil)
		f.messages.EXPECT().GetMessage(staleID).Return(domain.Message{}, errors.ErrMessageNotFound)
		f.receipts.EXPECT().ListReaders(found.ID).Return([]string{"alice"}, nil)

		results, err := f.service.Search(context.Background(), "alice", room, "pizza")

		req.NoError(err)
		req.Len(results, 1)
		req.Equal(found, results[0].Message)
	})
}
