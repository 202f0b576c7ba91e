package domain

import "time"

// User identity as read from the durable store. Profile management
// lives in the surrounding glue layer; the core only reads users by id.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}
