package errors

import "fmt"

var (
	// Validation
	ErrEmptyContent   = fmt.Errorf("message content is empty")
	ErrContentTooLong = fmt.Errorf("message content exceeds the allowed length")
	ErrMalformedFrame = fmt.Errorf("malformed payload")

	// Authorization
	ErrInvalidToken   = fmt.Errorf("credential is invalid or expired")
	ErrNotParticipant = fmt.Errorf("user is not a participant of the room")

	// Not found
	ErrMessageNotFound = fmt.Errorf("message not found")
	ErrRoomNotFound    = fmt.Errorf("room not found")
	ErrUserNotFound    = fmt.Errorf("user not found")

	// Store invariants
	ErrPrivateRoomExists = fmt.Errorf("a private room already exists for this user pair")
	ErrPrivateRoomSize   = fmt.Errorf("a private room requires exactly two distinct participants")
	ErrNoParticipants    = fmt.Errorf("room has no participants")

	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrEmptyWordList = fmt.Errorf("no censored words have been found")
)
