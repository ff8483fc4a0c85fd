package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type trainerLookup interface {
	GetByID(ctx context.Context, trainerID int64) (*models.Trainer, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Trainer, error)
}

// BookingService books classes with trainers. The bookings insert is what
// the notification fan-out announces as "Class Booked!".
type BookingService struct {
	db          *pgxpool.Pool
	bookingRepo *repository.BookingRepository
	trainerRepo trainerLookup
	now         func() time.Time
}

func NewBookingService(
	db *pgxpool.Pool,
	bookingRepo *repository.BookingRepository,
	trainerRepo trainerLookup,
) *BookingService {
	return &BookingService{
		db:          db,
		bookingRepo: bookingRepo,
		trainerRepo: trainerRepo,
		now:         time.Now,
	}
}

type BookClassInput struct {
	TrainerID       int64
	ClassName       string
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           *string
}

func (in BookClassInput) validate(now time.Time) error {
	if in.TrainerID <= 0 {
		return validationError("trainer_id must be positive")
	}
	if strings.TrimSpace(in.ClassName) == "" {
		return validationError("class_name is required")
	}
	if in.DurationMinutes <= 0 {
		return validationError("duration_min must be positive")
	}
	if in.ScheduledAt.Before(now.Add(-1 * time.Minute)) {
		return validationError("scheduled_at must not be in the past")
	}
	return nil
}

func (s *BookingService) BookClass(
	ctx context.Context,
	userID int64,
	input BookClassInput,
) (*models.Booking, error) {
	if err := input.validate(s.now()); err != nil {
		return nil, err
	}

	trainer, err := s.trainerRepo.GetByID(ctx, input.TrainerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTrainerNotFound
		}
		return nil, collaboratorError("look up trainer", err)
	}
	if trainer.UserID != nil && *trainer.UserID == userID {
		return nil, validationError("trainers cannot book their own classes")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, collaboratorError("begin booking", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txBookingRepo := repository.NewBookingRepository(tx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", input.TrainerID); err != nil {
		return nil, collaboratorError("lock trainer schedule", err)
	}

	hasConflict, err := txBookingRepo.HasConflict(
		ctx,
		input.TrainerID,
		input.ScheduledAt.UTC(),
		input.DurationMinutes,
	)
	if err != nil {
		return nil, collaboratorError("check schedule", err)
	}
	if hasConflict {
		return nil, ErrConflict
	}

	booking, err := txBookingRepo.Create(ctx, repository.CreateBookingInput{
		UserID:          userID,
		TrainerID:       input.TrainerID,
		ClassName:       strings.TrimSpace(input.ClassName),
		ScheduledAt:     input.ScheduledAt.UTC(),
		DurationMinutes: input.DurationMinutes,
		Notes:           input.Notes,
	})
	if err != nil {
		return nil, collaboratorError("create booking", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, collaboratorError("commit booking", err)
	}
	return booking, nil
}

// ListBookings returns the bookings a member made, or for trainers the
// bookings addressed to their trainer row.
func (s *BookingService) ListBookings(
	ctx context.Context,
	actorID int64,
	role string,
	status string,
	timeframe string,
) ([]models.Booking, error) {
	if status != "" && !models.ValidBookingStatus(status) {
		return nil, validationError("unknown booking status")
	}
	switch timeframe {
	case "", "upcoming", "past":
	default:
		return nil, validationError("timeframe must be upcoming or past")
	}

	filter := repository.BookingListFilter{
		ActorID:   actorID,
		Status:    status,
		Timeframe: timeframe,
	}
	if role == models.RoleTrainer {
		trainer, err := s.trainerRepo.GetByUserID(ctx, actorID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return []models.Booking{}, nil
			}
			return nil, collaboratorError("look up trainer", err)
		}
		filter.TrainerID = &trainer.ID
	}

	bookings, err := s.bookingRepo.List(ctx, filter)
	if err != nil {
		return nil, collaboratorError("list bookings", err)
	}
	return bookings, nil
}
