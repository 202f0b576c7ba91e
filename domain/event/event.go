// Package event defines the wire events pushed to live connections.
// Every event marshals to a JSON object with an "event" discriminator
// field; the shapes here are the protocol contract with clients.
package event

const (
	NameOnlineUsersList   = "online_users_list"
	NameUserOnline        = "user_online"
	NameUserOffline       = "user_offline"
	NameMessageHistory    = "message_history"
	NameNewMessage        = "new_message"
	NameMessageSent       = "message_sent"
	NameMessageRead       = "message_read"
	NameMessageReadStatus = "message_read_status"
	NameError             = "error"
)

type Event interface {
	EventName() string
}

// OnlineUsersList is the presence snapshot delivered to a connecting
// user before their user_online is announced to the others.
type OnlineUsersList struct {
	Event string   `json:"event"`
	Users []string `json:"users"`
}

func NewOnlineUsersList(users []string) OnlineUsersList {
	return OnlineUsersList{Event: NameOnlineUsersList, Users: users}
}

func (OnlineUsersList) EventName() string { return NameOnlineUsersList }

type UserOnline struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

func NewUserOnline(userID string) UserOnline {
	return UserOnline{Event: NameUserOnline, UserID: userID}
}

func (UserOnline) EventName() string { return NameUserOnline }

type UserOffline struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

func NewUserOffline(userID string) UserOffline {
	return UserOffline{Event: NameUserOffline, UserID: userID}
}

func (UserOffline) EventName() string { return NameUserOffline }

// HistoryEntry annotates a stored message with its current readers.
type HistoryEntry struct {
	SenderID  string   `json:"sender_id"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	MessageID string   `json:"message_id"`
	ReadBy    []string `json:"read_by"`
}

// MessageHistory carries the full room history, oldest first, as a
// single event on the room channel.
type MessageHistory struct {
	Event    string         `json:"event"`
	Messages []HistoryEntry `json:"messages"`
}

func NewMessageHistory(messages []HistoryEntry) MessageHistory {
	return MessageHistory{Event: NameMessageHistory, Messages: messages}
}

func (MessageHistory) EventName() string { return NameMessageHistory }

// NewMessage is the room-scoped fan-out of a freshly persisted message.
// ReadBy always starts as [sender_id].
type NewMessage struct {
	Event     string   `json:"event"`
	SenderID  string   `json:"sender_id"`
	RoomID    string   `json:"room_id"`
	Message   string   `json:"message"`
	MessageID string   `json:"message_id"`
	Timestamp string   `json:"timestamp"`
	ReadBy    []string `json:"read_by"`
}

func (NewMessage) EventName() string { return NameNewMessage }

type MessageSent struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewMessageSent(message string) MessageSent {
	return MessageSent{Event: NameMessageSent, Status: "success", Message: message}
}

func (MessageSent) EventName() string { return NameMessageSent }

// MessageRead is the global, presence-style broadcast emitted when any
// user acknowledges any message. Deliberately not room-scoped; see the
// receipt service.
type MessageRead struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

func NewMessageRead(userID string) MessageRead {
	return MessageRead{Event: NameMessageRead, UserID: userID}
}

func (MessageRead) EventName() string { return NameMessageRead }

// MessageReadStatus confirms a read acknowledgement to the caller.
type MessageReadStatus struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func NewMessageReadStatus(messageID string) MessageReadStatus {
	return MessageReadStatus{Event: NameMessageReadStatus, MessageID: messageID, Status: "read"}
}

func (MessageReadStatus) EventName() string { return NameMessageReadStatus }

type Error struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Event: NameError, Message: message}
}

func (Error) EventName() string { return NameError }
