// Package notifications turns change-feed events into per-viewer in-memory
// notification entries.
package notifications

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultLimit = 50

	MessagesLink = "/messages"
	BookingsLink = "/bookings"

	previewRunes  = 80
	lookupTimeout = 5 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("notification service already started")
	ErrInvalidViewer  = errors.New("viewer id must be positive")
)

// ParticipationChecker decides whether a message belongs to a conversation
// the viewer can see.
type ParticipationChecker interface {
	IsParticipant(ctx context.Context, viewerID int64, conversationID int64) (bool, error)
}

// Invalidator drops cached conversation lists and histories.
type Invalidator interface {
	InvalidateViewer(viewerID int64)
	InvalidateConversation(conversationID int64)
}

type TrainerLookup interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Trainer, error)
}

type Options struct {
	Clock         clock.Clock
	Limit         int
	Participation ParticipationChecker
	Invalidator   Invalidator
	Trainers      TrainerLookup
}

type Listener func([]models.NotificationEntry)

// Service holds one viewer's notifications. Entries are kept newest first
// and capped at Limit; the oldest are dropped.
type Service struct {
	feed  *changefeed.Feed
	clock clock.Clock
	limit int
	opts  Options

	mu         sync.Mutex
	viewerID   int64
	trainerID  *int64
	started    bool
	subs       []*changefeed.Subscription
	entries    []models.NotificationEntry
	listeners  map[int]Listener
	nextListen int

	// participation remembers the checker's answer per conversation for the
	// current viewer. Membership of a conversation never changes.
	participation *xsync.MapOf[int64, bool]
}

func NewService(feed *changefeed.Feed, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Service{
		feed:      feed,
		clock:     opts.Clock,
		limit:     opts.Limit,
		opts:      opts,
		entries:   make([]models.NotificationEntry, 0),
		listeners: make(map[int]Listener),

		participation: xsync.NewMapOf[int64, bool](),
	}
}

// Start subscribes to message inserts, conversation updates and booking
// inserts on behalf of viewerID.
func (s *Service) Start(ctx context.Context, viewerID int64) error {
	if viewerID <= 0 {
		return ErrInvalidViewer
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.viewerID != viewerID {
		s.participation.Clear()
	}
	s.started = true
	s.viewerID = viewerID
	s.mu.Unlock()

	trainerID := s.lookupTrainer(ctx, viewerID)

	subs := []*changefeed.Subscription{
		s.feed.Subscribe(changefeed.Filter{Table: changefeed.TableMessages, Kind: changefeed.KindInsert}, s.onMessageInserted),
		s.feed.Subscribe(changefeed.Filter{Table: changefeed.TableConversations, Kind: changefeed.KindUpdate}, s.onConversationUpdated),
		s.feed.Subscribe(changefeed.Filter{Table: changefeed.TableBookings, Kind: changefeed.KindInsert}, s.onBookingInserted),
	}

	s.mu.Lock()
	s.trainerID = trainerID
	stopped := !s.started
	if !stopped {
		s.subs = subs
	}
	s.mu.Unlock()

	if stopped {
		for _, sub := range subs {
			sub.Close()
		}
	}
	return nil
}

func (s *Service) lookupTrainer(ctx context.Context, viewerID int64) *int64 {
	if s.opts.Trainers == nil {
		return nil
	}
	trainer, err := s.opts.Trainers.GetByUserID(ctx, viewerID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("notifications: trainer lookup for viewer %d: %v", viewerID, err)
		}
		return nil
	}
	return &trainer.ID
}

// Stop closes the feed subscriptions. Entries are kept.
func (s *Service) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.started = false
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Service) ViewerID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewerID
}

func (s *Service) onMessageInserted(change changefeed.Change) {
	var message models.Message
	if err := change.Decode(&message); err != nil {
		log.Printf("notifications: %v", err)
		return
	}

	s.mu.Lock()
	viewerID, started := s.viewerID, s.started
	s.mu.Unlock()
	if !started || message.SenderID == viewerID {
		return
	}

	if !s.participates(viewerID, message.ConversationID) {
		return
	}

	if s.opts.Invalidator != nil {
		s.opts.Invalidator.InvalidateConversation(message.ConversationID)
		s.opts.Invalidator.InvalidateViewer(viewerID)
	}

	s.Push(models.NotificationEntry{
		Type:  models.NotificationMessage,
		Title: "New Message",
		Body:  preview(message.Content),
		Link:  MessagesLink,
	})
}

// participates runs on the feed goroutine, so the checker is asked at most
// once per conversation. Failed checks are not remembered.
func (s *Service) participates(viewerID int64, conversationID int64) bool {
	if s.opts.Participation == nil {
		return true
	}
	if ok, cached := s.participation.Load(conversationID); cached {
		return ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	ok, err := s.opts.Participation.IsParticipant(ctx, viewerID, conversationID)
	cancel()
	if err != nil {
		log.Printf("notifications: participation check for conversation %d: %v", conversationID, err)
		return false
	}
	s.participation.Store(conversationID, ok)
	return ok
}

func (s *Service) onConversationUpdated(change changefeed.Change) {
	var conversation models.Conversation
	if err := change.Decode(&conversation); err != nil {
		log.Printf("notifications: %v", err)
		return
	}
	if s.opts.Invalidator == nil {
		return
	}

	s.mu.Lock()
	viewerID := s.viewerID
	s.mu.Unlock()

	s.opts.Invalidator.InvalidateConversation(conversation.ID)
	if conversation.UserID == viewerID {
		s.opts.Invalidator.InvalidateViewer(viewerID)
	}
}

func (s *Service) onBookingInserted(change changefeed.Change) {
	var booking models.Booking
	if err := change.Decode(&booking); err != nil {
		log.Printf("notifications: %v", err)
		return
	}

	s.mu.Lock()
	viewerID, trainerID, started := s.viewerID, s.trainerID, s.started
	s.mu.Unlock()
	if !started {
		return
	}

	ownBooking := booking.UserID == viewerID
	ownClass := trainerID != nil && booking.TrainerID == *trainerID
	if !ownBooking && !ownClass {
		return
	}

	body := "Your class " + booking.ClassName + " has been booked."
	if !ownBooking {
		body = "A member booked your class " + booking.ClassName + "."
	}
	s.Push(models.NotificationEntry{
		Type:  models.NotificationBooking,
		Title: "Class Booked!",
		Body:  body,
		Link:  BookingsLink,
	})
}

// Push adds a locally raised entry. ID and CreatedAt are filled in when
// empty; an invalid type is stored as other.
func (s *Service) Push(entry models.NotificationEntry) models.NotificationEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	if !entry.Type.Valid() {
		entry.Type = models.NotificationOther
	}

	s.mu.Lock()
	entries := make([]models.NotificationEntry, 0, len(s.entries)+1)
	entries = append(entries, entry)
	entries = append(entries, s.entries...)
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	s.entries = entries
	s.notifyLocked()
	return entry
}

// MarkAsRead flags one entry and reports whether it exists.
func (s *Service) MarkAsRead(id string) bool {
	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		if s.entries[i].Read {
			s.mu.Unlock()
			return true
		}
		entries := s.copyEntriesLocked()
		entries[i].Read = true
		s.entries = entries
		s.notifyLocked()
		return true
	}
	s.mu.Unlock()
	return false
}

func (s *Service) MarkAllAsRead() {
	s.mu.Lock()
	changed := false
	entries := s.copyEntriesLocked()
	for i := range entries {
		if !entries[i].Read {
			entries[i].Read = true
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.entries = entries
	s.notifyLocked()
}

func (s *Service) ClearAll() {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return
	}
	s.entries = make([]models.NotificationEntry, 0)
	s.notifyLocked()
}

// Entries returns a snapshot, newest first.
func (s *Service) Entries() []models.NotificationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyEntriesLocked()
}

func (s *Service) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if !entry.Read {
			count++
		}
	}
	return count
}

// OnChange registers fn to receive the entry list after every change. The
// returned function unregisters it.
func (s *Service) OnChange(fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) copyEntriesLocked() []models.NotificationEntry {
	out := make([]models.NotificationEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// notifyLocked releases s.mu before calling listeners.
func (s *Service) notifyLocked() {
	snapshot := s.copyEntriesLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "..."
}
