package repository

import (
	"context"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
)

type TrainerRepository struct {
	db DBTX
}

func NewTrainerRepository(db DBTX) *TrainerRepository {
	return &TrainerRepository{db: db}
}

func (r *TrainerRepository) Create(ctx context.Context, userID *int64, firstName, lastName string) (*models.Trainer, error) {
	query := `
		INSERT INTO trainers (user_id, first_name, last_name)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, first_name, last_name, created_at
	`
	var trainer models.Trainer
	err := r.db.QueryRow(ctx, query, userID, firstName, lastName).Scan(
		&trainer.ID,
		&trainer.UserID,
		&trainer.FirstName,
		&trainer.LastName,
		&trainer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &trainer, nil
}

func (r *TrainerRepository) GetByID(ctx context.Context, trainerID int64) (*models.Trainer, error) {
	query := `
		SELECT id, user_id, first_name, last_name, created_at
		FROM trainers
		WHERE id = $1
	`
	var trainer models.Trainer
	err := r.db.QueryRow(ctx, query, trainerID).Scan(
		&trainer.ID,
		&trainer.UserID,
		&trainer.FirstName,
		&trainer.LastName,
		&trainer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &trainer, nil
}

func (r *TrainerRepository) GetByUserID(ctx context.Context, userID int64) (*models.Trainer, error) {
	query := `
		SELECT id, user_id, first_name, last_name, created_at
		FROM trainers
		WHERE user_id = $1
	`
	var trainer models.Trainer
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&trainer.ID,
		&trainer.UserID,
		&trainer.FirstName,
		&trainer.LastName,
		&trainer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &trainer, nil
}

func (r *TrainerRepository) FullName(ctx context.Context, trainerID int64) (string, error) {
	trainer, err := r.GetByID(ctx, trainerID)
	if err != nil {
		return "", err
	}
	return trainer.FullName(), nil
}
