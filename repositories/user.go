//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// IUserRepository covers the durable-store side of user identity. The
// core only reads users by id; creation exists for seeding and tests.
type IUserRepository interface {
	CreateUser(username string) (domain.User, error)
	GetUser(id string) (domain.User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

type userRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func (u UserRepository) CreateUser(username string) (domain.User, error) {
	user := domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(userRecord{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal failed: %w", err)
	}
	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), data)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (u UserRepository) GetUser(id string) (domain.User, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: record.ID, Username: record.Username, CreatedAt: record.CreatedAt.UTC()}, nil
}
