package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/broadcast"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/presence"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	EventOpen          = "open"
	EventClose         = "close"
	EventMessage       = "message"
	EventTyping        = "typing"
	EventRead          = "read"
	EventHistory       = "history"
	EventMessageUpdate = "message_update"
	EventNotification  = "notification"
	EventError         = "error"

	requestTimeout = 10 * time.Second
	sendQueueSize  = 32
)

type chatService interface {
	ListMessages(ctx context.Context, viewerID int64, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int64, senderID int64, content string) (*models.Message, error)
	MarkRead(ctx context.Context, viewerID int64, messageID int64) (*models.Message, error)
	MarkConversationRead(ctx context.Context, viewerID int64, conversationID int64) (int64, error)
}

type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps are the shared collaborators every client session uses.
type Deps struct {
	Chat   chatService
	Feed   *changefeed.Feed
	Bus    *broadcast.Bus
	Typing presence.Options
}

// Event is the outbound frame.
type Event struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	Content        string `json:"content,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type inbound struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Content        string `json:"content"`
	Typing         bool   `json:"typing"`
}

// Client is one websocket session. It has at most one open conversation,
// with its message stream and typing channel.
type Client struct {
	hub           *Hub
	conn          conn
	userID        int64
	displayName   string
	sessionID     string
	deps          Deps
	notifications *notifications.Service

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	stream *services.MessageStream
	typing *presence.TypingChannel
}

func NewClient(hub *Hub, conn conn, userID int64, displayName string, deps Deps, notes *notifications.Service) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		displayName:   displayName,
		sessionID:     uuid.NewString(),
		deps:          deps,
		notifications: notes,
		send:          make(chan []byte, sendQueueSize),
	}
}

// ReadPump handles inbound frames until the connection fails, then tears
// down the open conversation and unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.closeConversation()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	if c.notifications != nil {
		c.emit(Event{Type: EventNotification, Data: c.notifications.View()})
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming inbound
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.emitError(0, "invalid message payload", "")
			continue
		}
		c.handle(incoming)
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) handle(incoming inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch incoming.Type {
	case EventOpen:
		c.openConversation(ctx, incoming.ConversationID)
	case EventClose:
		c.closeConversation()
	case EventMessage:
		c.sendMessage(ctx, incoming)
	case EventTyping:
		c.setTyping(incoming)
	case EventRead:
		c.markRead(ctx, incoming)
	default:
		c.emitError(incoming.ConversationID, "unsupported message type", "")
	}
}

func (c *Client) openConversation(ctx context.Context, conversationID int64) {
	if conversationID <= 0 {
		c.emitError(0, "invalid conversation id", "")
		return
	}
	c.closeConversation()

	// Nothing from the stream reaches the socket until Load has confirmed
	// the user takes part in the conversation. Watching first keeps inserts
	// that race the load.
	stream := services.NewMessageStream(conversationID)
	if c.deps.Feed != nil {
		stream.Watch(c.deps.Feed)
	}
	if err := stream.Load(ctx, c.userID, c.deps.Chat); err != nil {
		stream.Close()
		c.emitError(conversationID, describe(err), "")
		return
	}

	typing := presence.Join(c.deps.Bus, conversationID, presence.Viewer{
		UserID:      c.userID,
		DisplayName: c.displayName,
		SessionID:   c.sessionID,
	}, c.deps.Typing)
	typing.OnChange(func(signals []models.TypingSignal) {
		c.emit(Event{Type: EventTyping, ConversationID: conversationID, Data: signals})
	})

	c.stream = stream
	c.typing = typing
	stream.Follow(func(history []models.Message) {
		c.emit(Event{Type: EventHistory, ConversationID: conversationID, Data: history})
	}, func(message models.Message, inserted bool) {
		eventType := EventMessageUpdate
		if inserted {
			eventType = EventMessage
		}
		c.emit(Event{Type: eventType, ConversationID: conversationID, Data: message})
	})
}

func (c *Client) closeConversation() {
	if c.typing != nil {
		c.typing.Close()
		c.typing = nil
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

func (c *Client) sendMessage(ctx context.Context, incoming inbound) {
	conversationID := incoming.ConversationID
	if conversationID == 0 && c.stream != nil {
		conversationID = c.stream.ConversationID()
	}

	message, err := c.deps.Chat.SendMessage(ctx, conversationID, c.userID, incoming.Content)
	if err != nil {
		c.emitError(conversationID, describe(err), incoming.Content)
		return
	}

	if c.stream != nil && c.stream.ConversationID() == message.ConversationID {
		if c.typing != nil {
			_ = c.typing.Stop()
		}
		c.stream.Apply(*message)
	}
}

func (c *Client) setTyping(incoming inbound) {
	if c.typing == nil {
		c.emitError(incoming.ConversationID, "no conversation is open", "")
		return
	}
	var err error
	if incoming.Typing {
		err = c.typing.Activity()
	} else {
		err = c.typing.Stop()
	}
	if err != nil {
		log.Printf("chat client %d typing: %v", c.userID, err)
	}
}

func (c *Client) markRead(ctx context.Context, incoming inbound) {
	if incoming.MessageID > 0 {
		message, err := c.deps.Chat.MarkRead(ctx, c.userID, incoming.MessageID)
		if err != nil {
			c.emitError(incoming.ConversationID, describe(err), "")
			return
		}
		if c.stream != nil {
			c.stream.Apply(*message)
		}
		return
	}

	conversationID := incoming.ConversationID
	if conversationID == 0 && c.stream != nil {
		conversationID = c.stream.ConversationID()
	}
	if _, err := c.deps.Chat.MarkConversationRead(ctx, c.userID, conversationID); err != nil {
		c.emitError(conversationID, describe(err), "")
		return
	}
	if c.stream != nil && c.stream.ConversationID() == conversationID {
		for _, message := range c.stream.Messages() {
			if message.SenderID != c.userID && !message.IsRead {
				message.IsRead = true
				c.stream.Apply(message)
			}
		}
	}
}

func (c *Client) emit(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = services.FormatChatTimestamp(time.Now())
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("chat client %d encode %s event: %v", c.userID, event.Type, err)
		return
	}
	if !c.enqueue(payload) {
		c.hub.Unregister(c)
	}
}

// emitError reports a failed request. content echoes an unsent message so
// the client can restore it.
func (c *Client) emitError(conversationID int64, message string, content string) {
	c.emit(Event{
		Type:           EventError,
		ConversationID: conversationID,
		Error:          message,
		Content:        content,
	})
}

// enqueue reports false when the queue is full; a closed queue drops
// silently.
func (c *Client) enqueue(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func describe(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return err.Error()
	case errors.Is(err, services.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, services.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	default:
		return "failed to process chat request"
	}
}
