// Package presence implements per-conversation typing indicators over the
// ephemeral broadcast bus.
package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/broadcast"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/benbjohnson/clock"
)

const (
	DefaultStaleAfter    = 3 * time.Second
	DefaultSweepInterval = time.Second
)

var ErrChannelClosed = errors.New("typing channel closed")

type State int

const (
	StateIdle State = iota
	StateAnnouncing
)

func (s State) String() string {
	if s == StateAnnouncing {
		return "announcing"
	}
	return "idle"
}

// Viewer identifies the local side. SessionID distinguishes tabs of the same
// user on the bus; it defaults to the user id.
type Viewer struct {
	UserID      int64
	DisplayName string
	SessionID   string
}

type Options struct {
	Clock         clock.Clock
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// sessionKey identifies one tab of a user. A user stays visible while any of
// their sessions is typing.
type sessionKey struct {
	userID  int64
	session string
}

type TypingChannel struct {
	conversationID int64
	viewer         Viewer
	clock          clock.Clock
	staleAfter     time.Duration
	member         *broadcast.Member

	mu            sync.Mutex
	seen          map[sessionKey]models.TypingSignal
	state         State
	lastAnnounced time.Time
	idleTimer     *clock.Timer
	onChange      func([]models.TypingSignal)
	closed        bool

	ticker *clock.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func ChannelName(conversationID int64) string {
	return fmt.Sprintf("typing:conversation:%d", conversationID)
}

// Join subscribes the viewer to the conversation's typing channel and starts
// the staleness sweep. Close must be called to release both.
func Join(bus *broadcast.Bus, conversationID int64, viewer Viewer, opts Options) *TypingChannel {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if viewer.SessionID == "" {
		viewer.SessionID = strconv.FormatInt(viewer.UserID, 10)
	}

	c := &TypingChannel{
		conversationID: conversationID,
		viewer:         viewer,
		clock:          opts.Clock,
		staleAfter:     opts.StaleAfter,
		seen:           make(map[sessionKey]models.TypingSignal),
		ticker:         opts.Clock.Ticker(opts.SweepInterval),
		done:           make(chan struct{}),
	}
	c.member = bus.Join(ChannelName(conversationID), viewer.SessionID, c.receive)

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

func (c *TypingChannel) ConversationID() int64 {
	return c.conversationID
}

// OnChange registers fn to receive the visible typing list whenever it
// changes. fn runs without the channel's lock held.
func (c *TypingChannel) OnChange(fn func([]models.TypingSignal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Announce broadcasts the viewer's typing state. Delivery is best effort.
func (c *TypingChannel) Announce(typing bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.mu.Unlock()
	return c.publish(typing)
}

// Activity records local input. The first call moves Idle to Announcing; every
// call re-arms the idle timer, and an announcement older than a third of the
// staleness window is refreshed so observers keep the entry alive.
func (c *TypingChannel) Activity() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}

	now := c.clock.Now()
	announce := c.state == StateIdle || now.Sub(c.lastAnnounced) >= c.staleAfter/3
	c.state = StateAnnouncing
	if announce {
		c.lastAnnounced = now
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = c.clock.AfterFunc(c.staleAfter, c.idleExpired)
	c.mu.Unlock()

	if announce {
		return c.publish(true)
	}
	return nil
}

// Stop ends an active announcement immediately.
func (c *TypingChannel) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	wasAnnouncing := c.resetLocked()
	c.mu.Unlock()

	if wasAnnouncing {
		return c.publish(false)
	}
	return nil
}

func (c *TypingChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TypingUsers returns the other users currently typing, excluding entries
// past the staleness window even if the sweep has not run yet.
func (c *TypingChannel) TypingUsers() []models.TypingSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked(c.clock.Now())
}

// Close announces a stop if needed, leaves the bus and stops every timer.
func (c *TypingChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasAnnouncing := c.resetLocked()
	c.mu.Unlock()

	if wasAnnouncing {
		if err := c.publish(false); err != nil {
			log.Printf("typing channel %d: final stop: %v", c.conversationID, err)
		}
	}

	c.mu.Lock()
	c.closed = true
	c.seen = make(map[sessionKey]models.TypingSignal)
	c.onChange = nil
	c.mu.Unlock()

	c.member.Leave()
	close(c.done)
	c.wg.Wait()
	c.ticker.Stop()
}

func (c *TypingChannel) publish(typing bool) error {
	payload, err := json.Marshal(models.TypingSignal{
		UserID:      c.viewer.UserID,
		SessionID:   c.viewer.SessionID,
		DisplayName: c.viewer.DisplayName,
		Typing:      typing,
		Timestamp:   c.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode typing signal: %w", err)
	}
	c.member.Publish(payload)
	return nil
}

func (c *TypingChannel) resetLocked() bool {
	wasAnnouncing := c.state == StateAnnouncing
	c.state = StateIdle
	c.lastAnnounced = time.Time{}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	return wasAnnouncing
}

func (c *TypingChannel) idleExpired() {
	c.mu.Lock()
	if c.closed || c.state != StateAnnouncing {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.mu.Unlock()

	if err := c.publish(false); err != nil {
		log.Printf("typing channel %d: idle stop: %v", c.conversationID, err)
	}
}

func (c *TypingChannel) receive(payload []byte) {
	var signal models.TypingSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		log.Printf("typing channel %d: drop signal: %v", c.conversationID, err)
		return
	}
	if signal.UserID == c.viewer.UserID {
		return
	}

	key := sessionKey{userID: signal.UserID, session: signal.SessionID}
	if key.session == "" {
		key.session = strconv.FormatInt(signal.UserID, 10)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasTyping := c.userTypingLocked(signal.UserID)
	if signal.Typing {
		// Staleness is measured from local receipt so sender clock skew
		// cannot keep an entry alive.
		signal.Timestamp = c.clock.Now()
		c.seen[key] = signal
	} else {
		delete(c.seen, key)
	}
	c.notifyLocked(wasTyping != c.userTypingLocked(signal.UserID))
}

func (c *TypingChannel) userTypingLocked(userID int64) bool {
	for key := range c.seen {
		if key.userID == userID {
			return true
		}
	}
	return false
}

func (c *TypingChannel) sweepLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *TypingChannel) sweep() {
	c.mu.Lock()
	now := c.clock.Now()
	var expired []int64
	for key, signal := range c.seen {
		if now.Sub(signal.Timestamp) > c.staleAfter {
			delete(c.seen, key)
			expired = append(expired, key.userID)
		}
	}
	changed := false
	for _, userID := range expired {
		if !c.userTypingLocked(userID) {
			changed = true
			break
		}
	}
	c.notifyLocked(changed)
}

// notifyLocked releases c.mu and, when changed, hands the visible list to the
// observer.
func (c *TypingChannel) notifyLocked(changed bool) {
	fn := c.onChange
	var visible []models.TypingSignal
	if changed && fn != nil {
		visible = c.visibleLocked(c.clock.Now())
	}
	c.mu.Unlock()

	if changed && fn != nil {
		fn(visible)
	}
}

// visibleLocked lists one entry per typing user, the freshest of their
// sessions.
func (c *TypingChannel) visibleLocked(now time.Time) []models.TypingSignal {
	latest := make(map[int64]models.TypingSignal, len(c.seen))
	for key, signal := range c.seen {
		if key.userID == c.viewer.UserID || now.Sub(signal.Timestamp) > c.staleAfter {
			continue
		}
		if current, ok := latest[key.userID]; !ok || signal.Timestamp.After(current.Timestamp) {
			latest[key.userID] = signal
		}
	}
	visible := make([]models.TypingSignal, 0, len(latest))
	for _, signal := range latest {
		visible = append(visible, signal)
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].UserID < visible[j].UserID
	})
	return visible
}
