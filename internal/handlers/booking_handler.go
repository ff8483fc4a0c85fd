package handlers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
)

type BookingHandler struct {
	service bookingApplicationService
}

type bookingApplicationService interface {
	BookClass(ctx context.Context, userID int64, input services.BookClassInput) (*models.Booking, error)
	ListBookings(ctx context.Context, actorID int64, role string, status string, timeframe string) ([]models.Booking, error)
}

func NewBookingHandler(service bookingApplicationService) *BookingHandler {
	return &BookingHandler{service: service}
}

type bookClassRequest struct {
	TrainerID       int64   `json:"trainer_id"`
	ClassName       string  `json:"class_name"`
	ScheduledAt     string  `json:"scheduled_at"`
	DurationMinutes int     `json:"duration_min"`
	Notes           *string `json:"notes"`
}

func (h *BookingHandler) BookClass(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleMember {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req bookClassRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scheduled_at must be a valid RFC3339 timestamp"})
	}
	if req.Notes != nil && strings.TrimSpace(*req.Notes) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notes must not be empty"})
	}

	booking, err := h.service.BookClass(c.Context(), userID, services.BookClassInput{
		TrainerID:       req.TrainerID,
		ClassName:       req.ClassName,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"booking": booking})
}

func (h *BookingHandler) ListBookings(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || !models.ValidRole(role) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	bookings, err := h.service.ListBookings(
		c.Context(),
		userID,
		role,
		strings.TrimSpace(c.Query("status")),
		strings.TrimSpace(c.Query("timeframe")),
	)
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.JSON(fiber.Map{"bookings": bookings})
}

func mapBookingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested time conflicts with another booking"})
	case errors.Is(err, services.ErrTrainerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer not found"})
	default:
		log.Printf("booking request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process booking"})
	}
}
