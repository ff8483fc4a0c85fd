// Package changefeed delivers row-level insert/update/delete notifications
// from the data store to in-process listeners.
//
// A Feed is a plain dispatcher; PGListener fills it from Postgres
// LISTEN/NOTIFY. Events carry no ordering guarantee across subscriptions, so
// listeners merge by row id rather than by arrival order.
package changefeed

import (
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

const (
	TableMessages      = "messages"
	TableConversations = "conversations"
	TableBookings      = "bookings"
)

type Change struct {
	Table           string          `json:"table"`
	Kind            Kind            `json:"type"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
	// Truncated marks a row too large for a notification; Record then holds
	// only its id.
	Truncated bool `json:"truncated,omitempty"`
}

// Decode unmarshals the changed row into dst.
func (c Change) Decode(dst any) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("change on %s has no record", c.Table)
	}
	if err := json.Unmarshal(c.Record, dst); err != nil {
		return fmt.Errorf("decode %s record: %w", c.Table, err)
	}
	return nil
}

// Filter selects changes by table and kind. An empty Kind matches every kind.
type Filter struct {
	Table string
	Kind  Kind
}

func (f Filter) Matches(change Change) bool {
	if f.Table != change.Table {
		return false
	}
	return f.Kind == "" || f.Kind == change.Kind
}

type Listener func(Change)

type Feed struct {
	subs   *xsync.MapOf[uint64, *Subscription]
	nextID atomic.Uint64
}

func NewFeed() *Feed {
	return &Feed{subs: xsync.NewMapOf[uint64, *Subscription]()}
}

type Subscription struct {
	feed     *Feed
	id       uint64
	filter   Filter
	listener Listener
	closed   atomic.Bool
}

func (f *Feed) Subscribe(filter Filter, listener Listener) *Subscription {
	sub := &Subscription{
		feed:     f,
		id:       f.nextID.Add(1),
		filter:   filter,
		listener: listener,
	}
	f.subs.Store(sub.id, sub)
	return sub
}

// Close stops delivery to the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.feed.subs.Delete(s.id)
}

func (s *Subscription) Active() bool {
	return s != nil && !s.closed.Load()
}

// Publish hands change to every matching subscription on the caller's
// goroutine. A panicking listener is logged and does not affect the others.
func (f *Feed) Publish(change Change) {
	f.subs.Range(func(_ uint64, sub *Subscription) bool {
		if sub.filter.Matches(change) && sub.Active() {
			sub.deliver(change)
		}
		return true
	})
}

// Len reports the number of active subscriptions.
func (f *Feed) Len() int {
	return f.subs.Size()
}

func (s *Subscription) deliver(change Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("change feed: listener for %s %s panicked: %v\n%s", change.Table, change.Kind, r, debug.Stack())
		}
	}()
	s.listener(change)
}
