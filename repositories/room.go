//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// IRoomRepository is the room-membership oracle. IsParticipant gates
// chat-history access and message sends; ListParticipantIDs is the
// fan-out target list.
type IRoomRepository interface {
	CreateRoom(kind domain.RoomKind, participantIDs []string) (domain.Room, error)
	AddParticipant(roomID domain.RoomID, userID string) error
	GetRoom(roomID domain.RoomID) (domain.Room, error)
	IsParticipant(userID string, roomID domain.RoomID) (bool, error)
	ListParticipantIDs(roomID domain.RoomID) ([]string, error)
}

type RoomRepository struct {
	db *badger.DB
}

func NewRoomRepository(db *badger.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

type roomRecord struct {
	ID        string          `json:"id"`
	Kind      domain.RoomKind `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
}

type memberRecord struct {
	JoinedAt time.Time `json:"joined_at"`
}

func roomKey(roomID domain.RoomID) []byte {
	return []byte("room:" + string(roomID))
}

func memberKey(roomID domain.RoomID, userID string) []byte {
	return []byte(fmt.Sprintf("member:%s:%s", roomID, userID))
}

// pairKey indexes a private room by its unordered user pair, so the
// "at most one private room per pair" invariant is a single Get away.
func pairKey(a, b string) []byte {
	pair := []string{a, b}
	sort.Strings(pair)
	return []byte(fmt.Sprintf("pair:%s:%s", pair[0], pair[1]))
}

// CreateRoom persists a room and its initial membership edges in one
// transaction. Private rooms require exactly two distinct participants
// and at most one private room may exist per unordered pair.
func (r RoomRepository) CreateRoom(kind domain.RoomKind, participantIDs []string) (domain.Room, error) {
	if kind == domain.RoomPrivate {
		if len(participantIDs) != 2 || participantIDs[0] == participantIDs[1] {
			return domain.Room{}, errors.ErrPrivateRoomSize
		}
	}
	if len(participantIDs) == 0 {
		return domain.Room{}, errors.ErrNoParticipants
	}

	room := domain.Room{
		ID:        domain.RoomID(uuid.NewString()),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(roomRecord{ID: string(room.ID), Kind: room.Kind, CreatedAt: room.CreatedAt})
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if kind == domain.RoomPrivate {
			key := pairKey(participantIDs[0], participantIDs[1])
			if _, err := txn.Get(key); err == nil {
				return errors.ErrPrivateRoomExists
			}
			if err := txn.Set(key, []byte(room.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(roomKey(room.ID), data); err != nil {
			return err
		}
		member, err := json.Marshal(memberRecord{JoinedAt: room.CreatedAt})
		if err != nil {
			return err
		}
		for _, participantID := range participantIDs {
			if err := txn.Set(memberKey(room.ID, participantID), member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// AddParticipant creates a membership edge. Membership never expires
// implicitly, so re-adding an existing member is a harmless overwrite.
func (r RoomRepository) AddParticipant(roomID domain.RoomID, userID string) error {
	room, err := r.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Kind == domain.RoomPrivate {
		return errors.ErrPrivateRoomSize
	}

	member, err := json.Marshal(memberRecord{JoinedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(memberKey(roomID, userID), member)
	})
}

func (r RoomRepository) GetRoom(roomID domain.RoomID) (domain.Room, error) {
	var record roomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Room{}, errors.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{ID: domain.RoomID(record.ID), Kind: record.Kind, CreatedAt: record.CreatedAt}, nil
}

func (r RoomRepository) IsParticipant(userID string, roomID domain.RoomID) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(memberKey(roomID, userID))
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

// ListParticipantIDs scans the membership prefix for a room. Badger
// iterates keys in lexicographic order, so the result is deterministic.
func (r RoomRepository) ListParticipantIDs(roomID domain.RoomID) ([]string, error) {
	var participantIDs []string
	prefix := []byte(fmt.Sprintf("member:%s:", roomID))
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			participantIDs = append(participantIDs, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participantIDs, nil
}
