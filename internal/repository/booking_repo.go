package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, user_id, trainer_id, class_name, scheduled_at, duration_min, status, notes, created_at, updated_at`

type CreateBookingInput struct {
	UserID          int64
	TrainerID       int64
	ClassName       string
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           *string
}

type BookingListFilter struct {
	ActorID   int64
	TrainerID *int64
	Status    string
	Timeframe string
}

type BookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(
	ctx context.Context,
	input CreateBookingInput,
) (*models.Booking, error) {
	query := `
		INSERT INTO bookings (user_id, trainer_id, class_name, scheduled_at, duration_min, status, notes)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING ` + bookingColumns

	return scanBooking(r.db.QueryRow(
		ctx,
		query,
		input.UserID,
		input.TrainerID,
		input.ClassName,
		input.ScheduledAt,
		input.DurationMinutes,
		input.Notes,
	))
}

// List returns bookings made by the actor, or addressed to filter.TrainerID
// when set.
func (r *BookingRepository) List(
	ctx context.Context,
	filter BookingListFilter,
) ([]models.Booking, error) {
	args := []any{filter.ActorID}
	whereParts := []string{"user_id = $1"}
	if filter.TrainerID != nil {
		args = append(args, *filter.TrainerID)
		whereParts = []string{fmt.Sprintf("trainer_id = $%d", len(args))}
	}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	switch strings.TrimSpace(filter.Timeframe) {
	case "upcoming":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_min * INTERVAL '1 minute')) > NOW()",
		)
	case "past":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_min * INTERVAL '1 minute')) <= NOW()",
		)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM bookings
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
	`, bookingColumns, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]models.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *booking)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return bookings, nil
}

func (r *BookingRepository) HasConflict(
	ctx context.Context,
	trainerID int64,
	requestedTime time.Time,
	durationMinutes int,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM bookings
			WHERE trainer_id = $1
			  AND status <> 'cancelled'
			  AND scheduled_at < ($2::timestamptz + ($3::int * INTERVAL '1 minute'))
			  AND (scheduled_at + (duration_min * INTERVAL '1 minute')) > $2::timestamptz
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, trainerID, requestedTime, durationMinutes).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var booking models.Booking
	err := row.Scan(
		&booking.ID,
		&booking.UserID,
		&booking.TrainerID,
		&booking.ClassName,
		&booking.ScheduledAt,
		&booking.DurationMinutes,
		&booking.Status,
		&booking.Notes,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}
