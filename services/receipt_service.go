package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IReceiptService interface {
	MarkRead(ctx context.Context, userID string, messageID uuid.UUID) (domain.Message, error)
}

type ReceiptService struct {
	log      *slog.Logger
	messages repositories.IMessageRepository
	receipts repositories.IReceiptRepository
	rooms    repositories.IRoomRepository
	presence contract.IPresence
}

func NewReceiptService(log *slog.Logger,
	messages repositories.IMessageRepository,
	receipts repositories.IReceiptRepository,
	rooms repositories.IRoomRepository,
	presence contract.IPresence) *ReceiptService {
	return &ReceiptService{
		log:      log,
		messages: messages,
		receipts: receipts,
		rooms:    rooms,
		presence: presence,
	}
}

// MarkRead records a user's read acknowledgement for a message. The
// call is idempotent: a repeat acknowledgement writes nothing new but
// still re-runs the full-read check. When every *current* participant
// of the room holds a receipt, the message is promoted to fully read, a
// one-way transition evaluated against membership at this moment; a
// participant added later does not retroactively un-read it.
func (s *ReceiptService) MarkRead(ctx context.Context, userID string, messageID uuid.UUID) (domain.Message, error) {
	message, err := s.messages.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}

	created, err := s.receipts.Create(domain.ReadReceipt{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now().UTC(),
	})
	if err != nil {
		return domain.Message{}, err
	}
	if !created {
		s.log.Debug("Receipt already recorded", "message_id", messageID, "user_id", userID)
	}

	if !message.FullyRead {
		participantIDs, err := s.rooms.ListParticipantIDs(message.RoomID)
		if err != nil {
			return domain.Message{}, err
		}
		readers, err := s.receipts.ListReaders(messageID)
		if err != nil {
			return domain.Message{}, err
		}
		// Guard against vacuous promotion on an empty participant set.
		if len(participantIDs) >= 1 && lo.Every(readers, participantIDs) {
			if err := s.messages.MarkFullyRead(messageID); err != nil {
				return domain.Message{}, err
			}
			message.FullyRead = true
		}
	}

	// Global, presence-style broadcast: every live connection learns
	// that this user read a message, regardless of room membership.
	// Distinct on purpose from the room-scoped new_message fan-out.
	s.presence.Broadcast(ctx, event.NewMessageRead(userID))

	return message, nil
}
