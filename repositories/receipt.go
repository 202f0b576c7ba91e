//go:generate go run go.uber.org/mock/mockgen -source=receipt.go -destination=../mocks/mock_receipt_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IReceiptRepository interface {
	// Create records a read receipt once per (message, user) pair.
	// It reports whether a new receipt was written; a repeat call is a
	// no-op returning false.
	Create(receipt domain.ReadReceipt) (bool, error)
	Has(messageID uuid.UUID, userID string) (bool, error)
	ListReaders(messageID uuid.UUID) ([]string, error)
}

type ReceiptRepository struct {
	db *badger.DB
}

func NewReceiptRepository(db *badger.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

type receiptRecord struct {
	At time.Time `json:"at"`
}

func receiptKey(messageID uuid.UUID, userID string) []byte {
	return []byte(fmt.Sprintf("receipt:%s:%s", messageID, userID))
}

func (r ReceiptRepository) Create(receipt domain.ReadReceipt) (bool, error) {
	data, err := json.Marshal(receiptRecord{At: receipt.ReadAt})
	if err != nil {
		return false, fmt.Errorf("marshal failed: %w", err)
	}

	created := false
	err = r.db.Update(func(txn *badger.Txn) error {
		key := receiptKey(receipt.MessageID, receipt.UserID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		created = true
		return txn.Set(key, data)
	})
	return created, err
}

func (r ReceiptRepository) Has(messageID uuid.UUID, userID string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(receiptKey(messageID, userID))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListReaders returns every user holding a receipt for the message, in
// Badger's lexicographic key order.
func (r ReceiptRepository) ListReaders(messageID uuid.UUID) ([]string, error) {
	var readers []string
	prefix := []byte(fmt.Sprintf("receipt:%s:", messageID))
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			readers = append(readers, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readers, nil
}
