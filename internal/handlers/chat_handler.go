package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/middleware"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/services"
	chatws "github.com/Promiles0/hubert-fitness-forge-sub001/internal/websocket"
	"github.com/Promiles0/hubert-fitness-forge-sub001/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, viewerID int64, role string) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, viewerID int64, target models.ConversationTarget, firstMessage string) (int64, error)
	DiscardConversation(ctx context.Context, viewerID int64, conversationID int64) error
	ListMessages(ctx context.Context, viewerID int64, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int64, senderID int64, content string) (*models.Message, error)
	MarkRead(ctx context.Context, viewerID int64, messageID int64) (*models.Message, error)
	MarkConversationRead(ctx context.Context, viewerID int64, conversationID int64) (int64, error)
}

type nameDirectory interface {
	FullName(ctx context.Context, userID int64) (string, error)
}

type ChatHandler struct {
	service       chatApplicationService
	hub           *chatws.Hub
	deps          chatws.Deps
	notifications *notifications.Registry
	names         nameDirectory
	jwtSecret     string
}

type createConversationRequest struct {
	Admin     bool   `json:"admin"`
	TrainerID *int64 `json:"trainer_id"`
	Message   string `json:"message"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func NewChatHandler(
	service chatApplicationService,
	hub *chatws.Hub,
	deps chatws.Deps,
	registry *notifications.Registry,
	names nameDirectory,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:       service,
		hub:           hub,
		deps:          deps,
		notifications: registry,
		names:         names,
		jwtSecret:     jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || !models.ValidRole(role) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListConversations(c.Context(), userID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleMember {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	target := models.ConversationTarget{Admin: req.Admin, TrainerID: req.TrainerID}
	conversationID, err := h.service.CreateConversation(c.Context(), userID, target, req.Message)
	if err != nil {
		var partial *services.PartialFailureError
		if errors.As(err, &partial) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":           "Conversation created but the first message was not sent",
				"conversation_id": partial.ConversationID,
			})
		}
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation_id": conversationID})
}

func (h *ChatHandler) DiscardConversation(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parsePathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.service.DiscardConversation(c.Context(), userID, conversationID); err != nil {
		return mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parsePathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	messages, err := h.service.ListMessages(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parsePathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.SendMessage(c.Context(), conversationID, userID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parsePathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	updated, err := h.service.MarkConversationRead(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *ChatHandler) MarkMessageRead(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := parsePathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, err := h.service.MarkRead(c.Context(), userID, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDStr, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}

	ctx := context.Background()
	displayName := "User"
	if h.names != nil {
		if name, err := h.names.FullName(ctx, userID); err == nil && name != "" {
			displayName = name
		}
	}

	var notes *notifications.Service
	if h.notifications != nil {
		notes, err = h.notifications.Acquire(ctx, userID)
		if err != nil {
			log.Printf("chat websocket: notifications for user %d: %v", userID, err)
		} else {
			defer h.notifications.Release(userID)
		}
	}

	client := chatws.NewClient(h.hub, conn, userID, displayName, h.deps, notes)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		tokenString, _ = middleware.BearerToken(c.Get("Authorization"))
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrTrainerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer not found"})
	case errors.Is(err, services.ErrConversationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrMessageNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message not found"})
	case errors.Is(err, services.ErrCannotDiscard):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Conversation already has messages"})
	default:
		log.Printf("chat request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
