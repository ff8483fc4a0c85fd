package repository

import (
	"context"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
)

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(ctx context.Context, userID int64, firstName, lastName *string) error {
	query := `INSERT INTO profiles (user_id, first_name, last_name) VALUES ($1, $2, $3)`
	_, err := r.db.Exec(ctx, query, userID, firstName, lastName)
	return err
}

func (r *ProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.Profile, error) {
	query := `
		SELECT user_id, first_name, last_name, avatar_url, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`
	var profile models.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.AvatarURL,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) FullName(ctx context.Context, userID int64) (string, error) {
	profile, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return profile.FullName(), nil
}
