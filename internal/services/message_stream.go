package services

import (
	"context"
	"log"
	"sync"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
)

type messageLoader interface {
	ListMessages(ctx context.Context, viewerID int64, conversationID int64) ([]models.Message, error)
}

// StreamListener receives every message that changed the visible history.
// inserted is false when an existing entry was updated in place.
type StreamListener func(message models.Message, inserted bool)

// MessageStream is the ordered in-memory history of one open conversation.
// Entries are unique by id and sorted by sent_at, then id.
type MessageStream struct {
	conversationID int64

	mu       sync.Mutex
	messages []models.Message
	listener StreamListener
	sub      *changefeed.Subscription
	closed   bool
}

func NewMessageStream(conversationID int64) *MessageStream {
	return &MessageStream{
		conversationID: conversationID,
		messages:       make([]models.Message, 0),
	}
}

func (s *MessageStream) ConversationID() int64 {
	return s.conversationID
}

// Load fetches the persisted history and merges it with anything applied
// since the stream was opened.
func (s *MessageStream) Load(ctx context.Context, viewerID int64, loader messageLoader) error {
	messages, err := loader.ListMessages(ctx, viewerID, s.conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range messages {
		if message.ConversationID != s.conversationID {
			continue
		}
		s.messages, _ = mergeMessage(s.messages, message)
	}
	return nil
}

// Apply inserts message or merges it into the entry with the same id and
// reports whether the visible history changed.
func (s *MessageStream) Apply(message models.Message) bool {
	s.mu.Lock()
	if s.closed || message.ConversationID != s.conversationID {
		s.mu.Unlock()
		return false
	}

	var result mergeResult
	s.messages, result = mergeMessage(s.messages, message)
	listener := s.listener
	if result != mergeUnchanged {
		for _, current := range s.messages {
			if current.ID == message.ID {
				message = current
				break
			}
		}
	}
	s.mu.Unlock()

	if result == mergeUnchanged {
		return false
	}
	if listener != nil {
		listener(message, result == mergeInserted)
	}
	return true
}

// Messages returns a snapshot of the history.
func (s *MessageStream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// Follow hands the current history to start and then installs fn. start
// runs under the stream lock, so fn is only called for changes that start
// did not see, and only after start has returned. start must not call back
// into the stream. Follow reports false once the stream is closed.
func (s *MessageStream) Follow(start func(history []models.Message), fn StreamListener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if start != nil {
		start(cloneMessages(s.messages))
	}
	s.listener = fn
	return true
}

// Watch applies message inserts and updates from feed until Close.
func (s *MessageStream) Watch(feed *changefeed.Feed) {
	sub := feed.Subscribe(changefeed.Filter{Table: changefeed.TableMessages}, func(change changefeed.Change) {
		if change.Kind == changefeed.KindDelete {
			return
		}
		var message models.Message
		if err := change.Decode(&message); err != nil {
			log.Printf("message stream %d: %v", s.conversationID, err)
			return
		}
		s.Apply(message)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return
	}
	previous := s.sub
	s.sub = sub
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Close stops the feed subscription. Later Apply calls are ignored.
func (s *MessageStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.listener = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
