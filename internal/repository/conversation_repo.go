package repository

import (
	"context"
	"fmt"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `c.id, c.user_id, c.trainer_id, c.is_admin_conversation, c.created_at, c.updated_at, c.last_message_at`

// participantClause matches conversations owned by $viewer, addressed to the
// viewer's trainer row, or (when $includeAdmin) any admin-support conversation.
const participantClause = `(
	c.user_id = $%[1]d
	OR c.trainer_id IN (SELECT t.id FROM trainers t WHERE t.user_id = $%[1]d)
	OR ($%[2]d AND c.is_admin_conversation)
)`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(
	ctx context.Context,
	userID int64,
	target models.ConversationTarget,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations AS c (user_id, trainer_id, is_admin_conversation)
		VALUES ($1, $2, $3)
		RETURNING ` + conversationColumns

	var trainerID *int64
	if !target.Admin {
		trainerID = target.TrainerID
	}
	return scanConversation(r.db.QueryRow(ctx, query, userID, trainerID, target.Admin))
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	viewerID int64,
	includeAdmin bool,
) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.id = $1 AND ` + participant(2, 3)

	return scanConversation(r.db.QueryRow(ctx, query, conversationID, viewerID, includeAdmin))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	viewerID int64,
	includeAdmin bool,
) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE ` + participant(1, 2) + `
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, viewerID, includeAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conversations, nil
}

// DeleteIfEmpty removes a conversation owned by userID that has no messages.
func (r *ConversationRepository) DeleteIfEmpty(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM conversations c
		WHERE c.id = $1
		  AND c.user_id = $2
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)
	`, conversationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.TrainerID,
		&conversation.IsAdminConversation,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&conversation.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func participant(viewerArg, includeAdminArg int) string {
	return fmt.Sprintf(participantClause, viewerArg, includeAdminArg)
}
