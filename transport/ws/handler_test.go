package ws

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/notify"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	server   *httptest.Server
	rooms    *repositories.RoomRepository
	messages repositories.MessageRepository
}

func defaultTestConfig() Config {
	return Config{
		HeartbeatInterval: 50 * time.Millisecond,
		PongTimeout:       5 * time.Second,
		SinkTimeout:       time.Second,
		SendRate:          100,
		SendBurst:         100,
	}
}

// newTestStack wires the full pipeline on a real store and index, the
// way the entrypoint does, behind an httptest server.
func newTestStack(t *testing.T, conf Config) testStack {
	t.Helper()
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	roomRepository := repositories.NewRoomRepository(db)
	messageRepository := repositories.NewMessageRepository(db, log, nil)
	receiptRepository := repositories.NewReceiptRepository(db)
	searchRepository := repositories.NewSearchRepository(writer, log)

	registry := runtime.NewRegistry()
	presence := runtime.NewPresence(log, registry, time.Second)

	moderator, err := moderation.NewModerator([]string{"heck"}, '*')
	require.NoError(t, err)

	indexQueue := make(chan domain.Message, 16)
	indexCtx, cancelIndexer := context.WithCancel(context.Background())
	t.Cleanup(cancelIndexer)
	go func() {
		_ = workers.NewIndexerWorker(log, indexQueue, searchRepository).Run(indexCtx)
	}()

	messageService := services.NewMessageService(log,
		roomRepository, messageRepository, receiptRepository, searchRepository,
		registry, notify.NewNoopNotifier(log), moderator, indexQueue,
		time.Second, 500, 50)
	receiptService := services.NewReceiptService(log,
		messageRepository, receiptRepository, roomRepository, presence)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(log, conf, presence, registry, auth.NewVerifier(),
		messageService, receiptService, roomRepository)
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return testStack{
		server:   server,
		rooms:    roomRepository,
		messages: messageRepository,
	}
}

func (s testStack) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return signed
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var payload map[string]any
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}

func userList(t *testing.T, payload map[string]any) []string {
	t.Helper()
	raw, ok := payload["users"].([]any)
	require.True(t, ok)
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.(string))
	}
	return users
}

func Test_Presence_Channel(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t, defaultTestConfig())

	// Given alice on the presence channel
	alice := stack.dial(t, "/ws/online/alice")
	snapshot := readEvent(t, alice)
	req.Equal("online_users_list", snapshot["event"])
	req.Equal([]string{"alice"}, userList(t, snapshot))

	// When bob connects
	bob := stack.dial(t, "/ws/online/bob")

	// Then bob's snapshot holds both users and alice learns about bob
	snapshot = readEvent(t, bob)
	req.ElementsMatch([]string{"alice", "bob"}, userList(t, snapshot))

	online := readEvent(t, alice)
	req.Equal("user_online", online["event"])
	req.Equal("bob", online["user_id"])

	// When bob drops the connection
	req.NoError(bob.Close())

	// Then alice sees him go offline
	offline := readEvent(t, alice)
	req.Equal("user_offline", offline["event"])
	req.Equal("bob", offline["user_id"])
}

func Test_Chat_Send_And_Read_Flow(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t, defaultTestConfig())

	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	req.NoError(err)

	// Given bob listening on the room channel
	bobChat := stack.dial(t, "/ws/chat/"+string(room.ID))
	req.NoError(bobChat.WriteJSON(map[string]string{"token": token(t, "bob")}))
	history := readEvent(t, bobChat)
	req.Equal("message_history", history["event"])
	req.Empty(history["messages"])

	// When alice sends a message (with a censored word in it)
	aliceSend := stack.dial(t, "/ws/send_message/"+string(room.ID))
	req.NoError(aliceSend.WriteJSON(map[string]string{
		"token":   token(t, "alice"),
		"message": "what the heck bob",
	}))

	// Then alice gets her acknowledgement
	ack := readEvent(t, aliceSend)
	req.Equal("message_sent", ack["event"])
	req.Equal("success", ack["status"])

	// And bob receives the censored message, already read by its sender
	delivered := readEvent(t, bobChat)
	req.Equal("new_message", delivered["event"])
	req.Equal("alice", delivered["sender_id"])
	req.Equal(string(room.ID), delivered["room_id"])
	req.Equal("what the **** bob", delivered["message"])
	req.Equal([]any{"alice"}, delivered["read_by"])
	messageID := delivered["message_id"].(string)
	req.NotEmpty(messageID)

	// When bob acknowledges the message
	bobRead := stack.dial(t,
		fmt.Sprintf("/ws/read_message/%s/%s?token=%s", room.ID, messageID, token(t, "bob")))
	status := readEvent(t, bobRead)
	req.Equal("message_read_status", status["event"])
	req.Equal(messageID, status["message_id"])
	req.Equal("read", status["status"])

	// Then every live connection hears about the read
	read := readEvent(t, bobChat)
	req.Equal("message_read", read["event"])
	req.Equal("bob", read["user_id"])

	// And with both participants holding receipts the message is fully read
	stored, err := stack.messages.GetMessage(uuid.MustParse(messageID))
	req.NoError(err)
	req.True(stored.FullyRead)

	// And a fresh history replay carries the up-to-date read-by list
	aliceChat := stack.dial(t, "/ws/chat/"+string(room.ID))
	req.NoError(aliceChat.WriteJSON(map[string]string{"token": token(t, "alice")}))
	history = readEvent(t, aliceChat)
	messages := history["messages"].([]any)
	req.Len(messages, 1)
	entry := messages[0].(map[string]any)
	req.Equal("what the **** bob", entry["content"])
	req.ElementsMatch([]any{"alice", "bob"}, entry["read_by"])
}

func Test_Chat_Channel_Rejections(t *testing.T) {
	stack := newTestStack(t, defaultTestConfig())
	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	require.NoError(t, err)

	t.Run("should close on an invalid token", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/chat/"+string(room.ID))
		req.NoError(conn.WriteJSON(map[string]string{"token": "not-a-jwt"}))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("invalid or expired token", errEvent["message"])

		_, _, err := conn.ReadMessage()
		req.Error(err)
	})

	t.Run("should close on a non participant", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/chat/"+string(room.ID))
		req.NoError(conn.WriteJSON(map[string]string{"token": token(t, "carol")}))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("not a participant of this room", errEvent["message"])
	})

	t.Run("should close on a malformed first frame", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/chat/"+string(room.ID))
		req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
	})
}

func Test_Send_Channel_Error_Handling(t *testing.T) {
	stack := newTestStack(t, defaultTestConfig())
	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	require.NoError(t, err)

	t.Run("should keep the connection open after a validation failure", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/send_message/"+string(room.ID))
		aliceToken := token(t, "alice")

		// Whitespace-only content fails validation in the pipeline
		req.NoError(conn.WriteJSON(map[string]string{"token": aliceToken, "message": "   "}))
		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("message content must not be empty", errEvent["message"])

		// A frame without a message is malformed, still not fatal
		req.NoError(conn.WriteJSON(map[string]string{"token": aliceToken}))
		errEvent = readEvent(t, conn)
		req.Equal("error", errEvent["event"])

		// The same connection can still deliver a valid message
		req.NoError(conn.WriteJSON(map[string]string{"token": aliceToken, "message": "still here"}))
		ack := readEvent(t, conn)
		req.Equal("message_sent", ack["event"])
	})

	t.Run("should close after an authorization failure", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/send_message/"+string(room.ID))

		req.NoError(conn.WriteJSON(map[string]string{"token": token(t, "carol"), "message": "let me in"}))
		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("not a participant of this room", errEvent["message"])

		_, _, err := conn.ReadMessage()
		req.Error(err)
	})

	t.Run("should close on an invalid token", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t, "/ws/send_message/"+string(room.ID))

		req.NoError(conn.WriteJSON(map[string]string{"token": "expired", "message": "hello"}))
		errEvent := readEvent(t, conn)
		req.Equal("invalid or expired token", errEvent["message"])

		_, _, err := conn.ReadMessage()
		req.Error(err)
	})
}

func Test_Send_Channel_Rate_Limit(t *testing.T) {
	req := require.New(t)
	conf := defaultTestConfig()
	conf.SendRate = 1
	conf.SendBurst = 1
	stack := newTestStack(t, conf)

	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	req.NoError(err)

	conn := stack.dial(t, "/ws/send_message/"+string(room.ID))
	aliceToken := token(t, "alice")

	req.NoError(conn.WriteJSON(map[string]string{"token": aliceToken, "message": "first"}))
	ack := readEvent(t, conn)
	req.Equal("message_sent", ack["event"])

	// The second frame in the same instant exceeds the burst
	req.NoError(conn.WriteJSON(map[string]string{"token": aliceToken, "message": "second"}))
	errEvent := readEvent(t, conn)
	req.Equal("error", errEvent["event"])
	req.Equal("rate limit exceeded", errEvent["message"])
}

func Test_Read_Channel_Rejections(t *testing.T) {
	stack := newTestStack(t, defaultTestConfig())
	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	require.NoError(t, err)

	t.Run("should reject a malformed message id", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t,
			fmt.Sprintf("/ws/read_message/%s/not-a-uuid?token=%s", room.ID, token(t, "bob")))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("malformed message id", errEvent["message"])
	})

	t.Run("should reject an unknown message", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t,
			fmt.Sprintf("/ws/read_message/%s/%s?token=%s", room.ID, uuid.NewString(), token(t, "bob")))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("message not found", errEvent["message"])
	})

	t.Run("should reject a missing token", func(t *testing.T) {
		req := require.New(t)
		conn := stack.dial(t,
			fmt.Sprintf("/ws/read_message/%s/%s", room.ID, uuid.NewString()))

		errEvent := readEvent(t, conn)
		req.Equal("error", errEvent["event"])
		req.Equal("invalid or expired token", errEvent["message"])
	})
}

func Test_Search_Endpoint(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t, defaultTestConfig())

	room, err := stack.rooms.CreateRoom(domain.RoomGroup, []string{"alice", "bob"})
	req.NoError(err)

	conn := stack.dial(t, "/ws/send_message/"+string(room.ID))
	req.NoError(conn.WriteJSON(map[string]string{"token": token(t, "alice"), "message": "pizza tonight anyone"}))
	ack := readEvent(t, conn)
	req.Equal("message_sent", ack["event"])

	searchURL := func(who string) string {
		return fmt.Sprintf("%s/rooms/%s/messages/search?q=pizza&token=%s",
			stack.server.URL, room.ID, token(t, who))
	}

	// Indexing is asynchronous, poll until the document lands
	req.Eventually(func() bool {
		resp, err := http.Get(searchURL("bob"))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return len(body.Messages) == 1 && body.Messages[0].Content == "pizza tonight anyone"
	}, 2*time.Second, 50*time.Millisecond)

	// A non participant is refused
	resp, err := http.Get(searchURL("carol"))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusForbidden, resp.StatusCode)

	// A missing token is refused earlier still
	resp2, err := http.Get(fmt.Sprintf("%s/rooms/%s/messages/search?q=pizza", stack.server.URL, room.ID))
	req.NoError(err)
	defer resp2.Body.Close()
	req.Equal(http.StatusUnauthorized, resp2.StatusCode)
}
