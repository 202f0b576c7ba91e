// Package domain contains core concepts of the messaging system.
// This file defines Room identities and membership invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

type RoomID string

type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a messaging context with a stable membership list.
// A private room holds exactly two participants and at most one such
// room exists per unordered user pair.
type Room struct {
	ID        RoomID
	Kind      RoomKind
	CreatedAt time.Time
}
