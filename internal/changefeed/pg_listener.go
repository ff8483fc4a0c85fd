package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultChannel is the channel the notify_row_change trigger writes to.
const DefaultChannel = "row_changes"

// PGListener holds one pooled connection in LISTEN mode and publishes every
// notification on the channel into a Feed.
type PGListener struct {
	pool       *pgxpool.Pool
	channel    string
	feed       *Feed
	retryDelay time.Duration
}

func NewPGListener(pool *pgxpool.Pool, feed *Feed) *PGListener {
	return &PGListener{
		pool:       pool,
		channel:    DefaultChannel,
		feed:       feed,
		retryDelay: 2 * time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting after connection errors.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("change feed: listener on %q stopped: %v; retrying in %s", l.channel, err, l.retryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	log.Printf("change feed: listening on %q", l.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := DecodeChange([]byte(notification.Payload))
		if err != nil {
			log.Printf("change feed: drop notification: %v", err)
			continue
		}
		if change.Truncated {
			if change, err = Complete(ctx, l.pool, change); err != nil {
				log.Printf("change feed: drop %s %s: %v", change.Table, change.Kind, err)
				continue
			}
		}
		l.feed.Publish(change)
	}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Complete reads back the row of a truncated change. Deletes keep the id
// only since the row is gone.
func Complete(ctx context.Context, db rowQuerier, change Change) (Change, error) {
	if !change.Truncated || change.Kind == KindDelete {
		return change, nil
	}
	switch change.Table {
	case TableMessages, TableConversations, TableBookings:
	default:
		return change, fmt.Errorf("%w: cannot read back table %q", ErrMalformedChange, change.Table)
	}
	var key struct {
		ID int64 `json:"id"`
	}
	if err := change.Decode(&key); err != nil {
		return change, err
	}

	query := "SELECT row_to_json(t) FROM " + pgx.Identifier{change.Table}.Sanitize() + " t WHERE t.id = $1"
	var record []byte
	if err := db.QueryRow(ctx, query, key.ID).Scan(&record); err != nil {
		return change, fmt.Errorf("read back %s %d: %w", change.Table, key.ID, err)
	}
	change.Record = record
	change.Truncated = false
	return change, nil
}

var ErrMalformedChange = errors.New("malformed change payload")

// DecodeChange parses the JSON payload emitted by the notify_row_change
// trigger.
func DecodeChange(payload []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return Change{}, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	if change.Table == "" {
		return Change{}, fmt.Errorf("%w: missing table", ErrMalformedChange)
	}
	switch change.Kind {
	case KindInsert, KindUpdate, KindDelete:
	default:
		return Change{}, fmt.Errorf("%w: unknown type %q", ErrMalformedChange, change.Kind)
	}
	return change, nil
}
