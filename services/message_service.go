package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomMessage annotates a stored message with its current readers.
type RoomMessage struct {
	Message domain.Message
	ReadBy  []string
}

type IMessageService interface {
	Send(ctx context.Context, senderID string, roomID domain.RoomID, content string) (domain.Message, error)
	History(ctx context.Context, roomID domain.RoomID) ([]RoomMessage, error)
	Search(ctx context.Context, userID string, roomID domain.RoomID, terms string) ([]RoomMessage, error)
}

type MessageService struct {
	log              *slog.Logger
	rooms            repositories.IRoomRepository
	messages         repositories.IMessageRepository
	receipts         repositories.IReceiptRepository
	search           repositories.ISearchRepository
	registry         contract.IRegistry
	notifier         contract.INotifier
	moderator        *moderation.Moderator
	indexQueue       chan<- domain.Message
	sinkTimeout      time.Duration
	maxContentLength int
	searchLimit      int
}

func NewMessageService(log *slog.Logger,
	rooms repositories.IRoomRepository,
	messages repositories.IMessageRepository,
	receipts repositories.IReceiptRepository,
	search repositories.ISearchRepository,
	registry contract.IRegistry,
	notifier contract.INotifier,
	moderator *moderation.Moderator,
	indexQueue chan<- domain.Message,
	sinkTimeout time.Duration,
	maxContentLength, searchLimit int) *MessageService {
	return &MessageService{
		log:              log,
		rooms:            rooms,
		messages:         messages,
		receipts:         receipts,
		search:           search,
		registry:         registry,
		notifier:         notifier,
		moderator:        moderator,
		indexQueue:       indexQueue,
		sinkTimeout:      sinkTimeout,
		maxContentLength: maxContentLength,
		searchLimit:      searchLimit,
	}
}

// Send runs the full message pipeline: validate, censor, authorize,
// persist (message + sender receipt in one transaction), then fan out
// to the online participants of the room. Persistence strictly
// precedes fan-out: a message is never broadcast unless durably stored.
func (s *MessageService) Send(ctx context.Context, senderID string, roomID domain.RoomID, content string) (domain.Message, error) {
	// 1. Validate before touching storage or the automaton.
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, errors.ErrEmptyContent
	}
	if len([]rune(content)) > s.maxContentLength {
		return domain.Message{}, errors.ErrContentTooLong
	}

	// 2. Censor forbidden words; the censored form is what gets stored
	// and delivered.
	content = s.moderator.Censor(content)

	// 3. Authorize: room routing alone is not an authorization check.
	isParticipant, err := s.rooms.IsParticipant(senderID, roomID)
	if err != nil {
		return domain.Message{}, err
	}
	if !isParticipant {
		return domain.Message{}, errors.ErrNotParticipant
	}

	// 4. Persist with a server-assigned id and timestamp; client clocks
	// are never trusted. UUIDv7 keeps ids time-ordered for tie-breaks.
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.StoreMessage(message); err != nil {
		return domain.Message{}, err
	}

	// 5. Queue for full-text indexing off the send path.
	select {
	case s.indexQueue <- message:
	default:
		s.log.Warn("Index queue full, message will not be searchable", "message_id", message.ID)
	}

	// 6. Fan out to online participants; notify the offline ones.
	participantIDs, err := s.rooms.ListParticipantIDs(roomID)
	if err != nil {
		return domain.Message{}, err
	}
	s.fanout(ctx, message, participantIDs)

	return message, nil
}

// fanout delivers the new_message event to every participant with a
// live connection and hands the rest to the out-of-band notifier.
// Per-recipient failures are logged and never abort the remaining
// deliveries nor fail the overall send.
func (s *MessageService) fanout(ctx context.Context, message domain.Message, participantIDs []string) {
	evt := event.NewMessage{
		Event:     event.NameNewMessage,
		SenderID:  message.SenderID,
		RoomID:    string(message.RoomID),
		Message:   message.Content,
		MessageID: message.ID.String(),
		Timestamp: message.CreatedAt.Format(time.RFC3339Nano),
		ReadBy:    []string{message.SenderID},
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("Failed to marshal new_message event", "err", err)
		return
	}

	for _, participantID := range participantIDs {
		sink, online := s.registry.Lookup(participantID)
		if !online {
			if err := s.notifier.Notify(ctx, participantID, payload); err != nil {
				s.log.Debug("Offline notification failed", "user_id", participantID, "err", err)
			}
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
		if err := sink.Consume(sendCtx, evt); err != nil {
			s.log.Debug("Message delivery failed", "user_id", participantID, "message_id", message.ID, "err", err)
		}
		cancel()
	}
}

// History replays a room's messages oldest first, each annotated with
// its current read-by list.
func (s *MessageService) History(ctx context.Context, roomID domain.RoomID) ([]RoomMessage, error) {
	messages, err := s.messages.GetMessages(roomID)
	if err != nil {
		return nil, err
	}
	return s.annotate(messages)
}

// Search runs a participant-gated full-text query over a room's
// history. Results reflect the async index, not necessarily the very
// latest sends.
func (s *MessageService) Search(ctx context.Context, userID string, roomID domain.RoomID, terms string) ([]RoomMessage, error) {
	isParticipant, err := s.rooms.IsParticipant(userID, roomID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, errors.ErrNotParticipant
	}

	ids, err := s.search.Search(ctx, roomID, terms, s.searchLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		message, err := s.messages.GetMessage(id)
		if err != nil {
			// The index may briefly lag behind deletion-free storage;
			// skip ids the store cannot resolve.
			s.log.Debug("Indexed message missing from store", "message_id", id, "err", err)
			continue
		}
		messages = append(messages, message)
	}
	return s.annotate(messages)
}

func (s *MessageService) annotate(messages []domain.Message) ([]RoomMessage, error) {
	annotated := make([]RoomMessage, 0, len(messages))
	for _, message := range messages {
		readers, err := s.receipts.ListReaders(message.ID)
		if err != nil {
			return nil, err
		}
		annotated = append(annotated, RoomMessage{Message: message, ReadBy: readers})
	}
	return annotated, nil
}
