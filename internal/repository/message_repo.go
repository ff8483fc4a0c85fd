package repository

import (
	"context"
	"errors"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, sender_id, content, sent_at, is_read`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts the message and advances the owning conversation's
// last_message_at in the same statement.
func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
) (*models.Message, error) {
	query := `
		WITH inserted AS (
			INSERT INTO messages (conversation_id, sender_id, content, is_read)
			VALUES ($1, $2, $3, FALSE)
			RETURNING ` + messageColumns + `
		), touched AS (
			UPDATE conversations c
			SET last_message_at = GREATEST(c.last_message_at, inserted.sent_at),
				updated_at = NOW()
			FROM inserted
			WHERE c.id = inserted.conversation_id
		)
		SELECT ` + messageColumns + ` FROM inserted
	`
	return scanMessage(r.db.QueryRow(ctx, query, conversationID, senderID, content))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
	`
	return r.list(ctx, query, conversationID)
}

func (r *MessageRepository) ListByConversations(
	ctx context.Context,
	conversationIDs []int64,
) ([]models.Message, error) {
	if len(conversationIDs) == 0 {
		return []models.Message{}, nil
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, sent_at ASC, id ASC
	`
	return r.list(ctx, query, conversationIDs)
}

// MarkRead flips is_read for a message readerID did not send. Calling it on a
// message that is already read returns the message unchanged.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	messageID int64,
	readerID int64,
) (*models.Message, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
		RETURNING ` + messageColumns

	message, err := scanMessage(r.db.QueryRow(ctx, query, messageID, readerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetByID(ctx, messageID)
	}
	return message, err
}

func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var message models.Message
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.SentAt,
		&message.IsRead,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}
