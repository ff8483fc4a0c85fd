package handlers

import (
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/gofiber/fiber/v2"
)

type notificationSource interface {
	Get(viewerID int64) (*notifications.Service, bool)
}

// NotificationHandler exposes the in-memory notifications of a viewer with
// at least one live connection. Without one there is nothing to show.
type NotificationHandler struct {
	registry notificationSource
}

func NewNotificationHandler(registry notificationSource) *NotificationHandler {
	return &NotificationHandler{registry: registry}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	service, ok := h.registry.Get(userID)
	if !ok {
		return c.JSON(notifications.NewListView([]models.NotificationEntry{}, time.Now()))
	}
	return c.JSON(service.View())
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	service, ok := h.registry.Get(userID)
	if !ok || !service.MarkAsRead(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
	}
	return c.JSON(service.View())
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	service, ok := h.registry.Get(userID)
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	service.MarkAllAsRead()
	return c.JSON(service.View())
}

func (h *NotificationHandler) ClearAll(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if service, ok := h.registry.Get(userID); ok {
		service.ClearAll()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
