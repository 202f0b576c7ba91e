//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessage(id uuid.UUID) (domain.Message, error)
	GetMessages(roomID domain.RoomID) ([]domain.Message, error)
	MarkFullyRead(id uuid.UUID) error
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type messageRecord struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
	FullyRead bool      `json:"fully_read"`
}

// messageKey is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Break ties deterministically when two messages land on the same
//     nanosecond: the id is a UUIDv7, itself time-ordered.
func messageKey(roomID domain.RoomID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", roomID, at.UnixNano(), id))
}

// messageIndexKey maps a message id back to its primary key so reads by
// id don't need the room or timestamp.
func messageIndexKey(id uuid.UUID) []byte {
	return []byte("msgidx:" + id.String())
}

// StoreMessage persists the message, its id index, and the sender's own
// read receipt in a single transaction: a message is considered read by
// its sender at send time, with no externally observable gap.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	key := messageKey(message.RoomID, message.CreatedAt, message.ID)
	data, err := json.Marshal(messageRecord{
		ID:        message.ID.String(),
		Room:      string(message.RoomID),
		Sender:    message.SenderID,
		Content:   message.Content,
		At:        message.CreatedAt,
		FullyRead: message.FullyRead,
	})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	receipt, err := json.Marshal(receiptRecord{At: message.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(messageIndexKey(message.ID), key); err != nil {
			return err
		}
		return txn.Set(receiptKey(message.ID, message.SenderID), receipt)
	})
}

func (m MessageRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var record messageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIndexKey(id))
		if err != nil {
			return err
		}
		primaryKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(primaryKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(record)
}

// GetMessages retrieves a room's history oldest first using a prefix
// scan. Thanks to the padded timestamp in the key, messages come back
// naturally sorted by creation time. Collection stops once the
// configured limitMessages is reached.
func (m MessageRepository) GetMessages(roomID domain.RoomID) ([]domain.Message, error) {
	var records []messageRecord
	prefix := []byte(fmt.Sprintf("msg:%s:", roomID))
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(records) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			var record messageRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(records))
	for _, record := range records {
		message, err := toMessage(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// MarkFullyRead flips the derived fully-read flag. One-way: the flag is
// never cleared, even if membership later changes.
func (m MessageRepository) MarkFullyRead(id uuid.UUID) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIndexKey(id))
		if err != nil {
			return err
		}
		primaryKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(primaryKey)
		if err != nil {
			return err
		}
		var record messageRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return err
		}
		if record.FullyRead {
			return nil
		}
		record.FullyRead = true
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(primaryKey, data)
	})
	if err == badger.ErrKeyNotFound {
		return errors.ErrMessageNotFound
	}
	return err
}

func toMessage(record messageRecord) (domain.Message, error) {
	parsedID, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        parsedID,
		RoomID:    domain.RoomID(record.Room),
		SenderID:  record.Sender,
		Content:   record.Content,
		CreatedAt: record.At.UTC(),
		FullyRead: record.FullyRead,
	}, nil
}
