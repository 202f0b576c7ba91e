package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	SinkTimeout       time.Duration
	SendRate          float64
	SendBurst         int
}

type Handler struct {
	log      *slog.Logger
	conf     Config
	presence contract.IPresence
	registry contract.IRegistry
	verifier contract.ITokenVerifier
	messages services.IMessageService
	receipts services.IReceiptService
	rooms    repositories.IRoomRepository
}

func NewHandler(log *slog.Logger,
	conf Config,
	presence contract.IPresence,
	registry contract.IRegistry,
	verifier contract.ITokenVerifier,
	messages services.IMessageService,
	receipts services.IReceiptService,
	rooms repositories.IRoomRepository) *Handler {
	return &Handler{
		log:      log,
		conf:     conf,
		presence: presence,
		registry: registry,
		verifier: verifier,
		messages: messages,
		receipts: receipts,
		rooms:    rooms,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/online/:user_id", h.HandleOnline)
	router.GET("/ws/chat/:room_id", h.HandleChat)
	router.GET("/ws/send_message/:room_id", h.HandleSend)
	router.GET("/ws/read_message/:room_id/:message_id", h.HandleRead)
	router.GET("/rooms/:room_id/messages/search", h.HandleSearch)
}

// HandleOnline is the presence channel. Connecting registers the user,
// delivers the online snapshot and announces user_online to the others;
// any transport close does the mirror image.
func (h *Handler) HandleOnline(c *gin.Context) {
	userID := c.Param("user_id")

	client, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.recoverConn(client)

	ctx := c.Request.Context()
	h.presence.Connect(ctx, userID, client)
	h.log.Info("User connected to presence channel", "user_id", userID)

	readUntilClose(client.conn)

	// Request context is canceled once the handler unwinds, so the exit
	// broadcast runs on its own context.
	h.presence.Disconnect(context.Background(), userID, client)
	client.Close()
	h.log.Info("User left presence channel", "user_id", userID)
}

// HandleChat is the room channel: the first inbound frame must carry
// the credential, then the caller gets the room history as a single
// event and starts receiving live room traffic.
func (h *Handler) HandleChat(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room_id"))

	client, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.recoverConn(client)
	defer client.Close()

	ctx := c.Request.Context()

	_, data, err := client.conn.ReadMessage()
	if err != nil {
		return
	}
	var frame auth.AuthFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.closeWithError(ctx, client, "malformed payload")
		return
	}
	if err := auth.ValidateAuthFrame(frame); err != nil {
		h.closeWithError(ctx, client, "malformed payload: token is required")
		return
	}
	userID, err := h.verifier.Verify(frame.Token)
	if err != nil {
		h.closeWithError(ctx, client, "invalid or expired token")
		return
	}

	isParticipant, err := h.rooms.IsParticipant(userID, roomID)
	if err != nil {
		h.closeWithError(ctx, client, "internal error")
		return
	}
	if !isParticipant {
		h.closeWithError(ctx, client, "not a participant of this room")
		return
	}

	history, err := h.messages.History(ctx, roomID)
	if err != nil {
		h.log.Error("Failed to load room history", "room_id", roomID, "err", err)
		h.closeWithError(ctx, client, "internal error")
		return
	}
	h.send(ctx, client, event.NewMessageHistory(historyEntries(history)))

	// Only now does the user count as online for message fan-out.
	h.registry.Register(userID, client)
	h.log.Info("User joined room channel", "user_id", userID, "room_id", roomID)

	readUntilClose(client.conn)

	h.presence.Disconnect(context.Background(), userID, client)
	h.log.Info("User left room channel", "user_id", userID, "room_id", roomID)
}

// HandleSend is the write-only channel. Every inbound frame carries its
// own credential and is re-verified; the connection never registers the
// sender as online. Validation failures keep the connection open so the
// client can retry, auth failures close it.
func (h *Handler) HandleSend(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room_id"))

	client, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.recoverConn(client)
	defer client.Close()

	ctx := c.Request.Context()
	limiter := rate.NewLimiter(rate.Limit(h.conf.SendRate), h.conf.SendBurst)
	var senderID string

loop:
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			break
		}
		if !limiter.Allow() {
			h.send(ctx, client, event.NewError("rate limit exceeded"))
			continue
		}

		var frame auth.SendFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.send(ctx, client, event.NewError("malformed payload"))
			continue
		}
		if err := auth.ValidateSendFrame(frame); err != nil {
			h.send(ctx, client, event.NewError("malformed payload: token and message are required"))
			continue
		}

		userID, err := h.verifier.Verify(frame.Token)
		if err != nil {
			h.send(ctx, client, event.NewError("invalid or expired token"))
			break
		}
		senderID = userID

		message, err := h.messages.Send(ctx, userID, roomID, frame.Message)
		switch {
		case err == nil:
			h.log.Debug("Message accepted", "message_id", message.ID, "room_id", roomID)
			h.send(ctx, client, event.NewMessageSent("message delivered"))
		case stderrors.Is(err, errors.ErrEmptyContent):
			h.send(ctx, client, event.NewError("message content must not be empty"))
		case stderrors.Is(err, errors.ErrContentTooLong):
			h.send(ctx, client, event.NewError("message content exceeds the maximum length"))
		case stderrors.Is(err, errors.ErrNotParticipant):
			h.send(ctx, client, event.NewError("not a participant of this room"))
			break loop
		default:
			h.log.Error("Message pipeline failed", "room_id", roomID, "err", err)
			h.send(ctx, client, event.NewError("internal error"))
			break loop
		}
	}

	// The send channel never registered anyone; the guarded unregister
	// makes this a no-op unless this very connection owns the mapping.
	if senderID != "" {
		h.presence.Disconnect(context.Background(), senderID, client)
	}
}

// HandleRead is the acknowledgement channel: one read receipt per
// connection, credential in the query string, confirmation pushed back
// on the same socket which then stays open until the client closes it.
func (h *Handler) HandleRead(c *gin.Context) {
	token := c.Query("token")
	rawMessageID := c.Param("message_id")

	client, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer h.recoverConn(client)
	defer client.Close()

	ctx := c.Request.Context()

	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.closeWithError(ctx, client, "invalid or expired token")
		return
	}
	messageID, err := uuid.Parse(rawMessageID)
	if err != nil {
		h.closeWithError(ctx, client, "malformed message id")
		return
	}

	message, err := h.receipts.MarkRead(ctx, userID, messageID)
	if err != nil {
		if stderrors.Is(err, errors.ErrMessageNotFound) {
			h.closeWithError(ctx, client, "message not found")
			return
		}
		h.log.Error("Failed to mark message read", "message_id", messageID, "err", err)
		h.closeWithError(ctx, client, "internal error")
		return
	}

	h.log.Debug("Message marked read",
		"message_id", messageID, "user_id", userID, "fully_read", message.FullyRead)
	h.send(ctx, client, event.NewMessageReadStatus(messageID.String()))

	readUntilClose(client.conn)
}

// HandleSearch is the one plain HTTP endpoint: full-text search over a
// room's history, gated on participation like the room channel itself.
func (h *Handler) HandleSearch(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room_id"))

	userID, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid or expired token"})
		return
	}
	terms := c.Query("q")
	if terms == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "query parameter q is required"})
		return
	}

	results, err := h.messages.Search(c.Request.Context(), userID, roomID, terms)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"message": "not a participant of this room"})
			return
		}
		h.log.Error("Search failed", "room_id", roomID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": historyEntries(results)})
}

func (h *Handler) upgrade(c *gin.Context) (*Client, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Info("Websocket upgrade failed", "err", err)
		return nil, false
	}
	return NewClient(h.log, conn, h.conf.HeartbeatInterval, h.conf.PongTimeout), true
}

func (h *Handler) send(ctx context.Context, client *Client, e event.Event) {
	sendCtx, cancel := context.WithTimeout(ctx, h.conf.SinkTimeout)
	defer cancel()
	if err := client.Consume(sendCtx, e); err != nil {
		h.log.Debug("Event delivery failed", "event", e.EventName(), "err", err)
	}
}

func (h *Handler) closeWithError(ctx context.Context, client *Client, message string) {
	h.send(ctx, client, event.NewError(message))
	client.Close()
}

// recoverConn keeps a faulty connection handler from taking the process
// down with it: the peer gets a generic error and its socket closed,
// every other connection stays untouched.
func (h *Handler) recoverConn(client *Client) {
	if r := recover(); r != nil {
		h.log.Error("Connection handler panic", "panic", r)
		h.send(context.Background(), client, event.NewError("internal error"))
		client.Close()
	}
}

// readUntilClose discards inbound frames until the transport closes or
// the liveness deadline trips. Channels that only push use it to notice
// the peer going away.
func readUntilClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func historyEntries(messages []services.RoomMessage) []event.HistoryEntry {
	entries := make([]event.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		readBy := m.ReadBy
		if readBy == nil {
			readBy = []string{}
		}
		entries = append(entries, event.HistoryEntry{
			SenderID:  m.Message.SenderID,
			Content:   m.Message.Content,
			Timestamp: m.Message.CreatedAt.Format(time.RFC3339Nano),
			MessageID: m.Message.ID.String(),
			ReadBy:    readBy,
		})
	}
	return entries
}
