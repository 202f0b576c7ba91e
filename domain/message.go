// Package domain contains core concepts of the messaging system.
// This file defines Message entities and ordering rules.
// Messages are immutable once created, except for the derived
// fully-read flag.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat event. The creation timestamp is
// server-assigned and is the ordering key; the UUIDv7 identifier breaks
// ties between messages created in the same instant.
type Message struct {
	ID        uuid.UUID
	RoomID    RoomID
	SenderID  string
	Content   string
	CreatedAt time.Time

	// FullyRead flips to true once every current room participant holds
	// a read receipt for this message. One-way transition.
	FullyRead bool
}
