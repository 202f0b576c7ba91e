package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReadReceipt records that a user has acknowledged a message.
// Unique per (message, user) pair; the sender's own receipt is created
// together with the message itself.
type ReadReceipt struct {
	MessageID uuid.UUID
	UserID    string
	ReadAt    time.Time
}
