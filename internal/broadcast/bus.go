// Package broadcast is an in-process ephemeral pub/sub. Payloads go to the
// members joined to a channel at publish time and are then forgotten: there
// is no persistence, replay or acknowledgement.
package broadcast

import (
	"log"
	"sync"
	"sync/atomic"
)

type Handler func(payload []byte)

type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Member
}

func NewBus() *Bus {
	return &Bus{channels: make(map[string]map[string]*Member)}
}

type Member struct {
	bus     *Bus
	channel string
	id      string
	handler Handler
	left    atomic.Bool
}

// Join adds a member to channel. Joining again with the same memberID
// replaces the earlier membership.
func (b *Bus) Join(channel, memberID string, handler Handler) *Member {
	member := &Member{
		bus:     b,
		channel: channel,
		id:      memberID,
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.channels[channel]
	if !ok {
		set = make(map[string]*Member)
		b.channels[channel] = set
	}
	if previous, exists := set[memberID]; exists {
		previous.left.Store(true)
	}
	set[memberID] = member
	return member
}

// Publish sends payload to every other member of the channel and returns how
// many were reached. Publishing after Leave is a no-op.
func (m *Member) Publish(payload []byte) int {
	if m.left.Load() {
		return 0
	}

	m.bus.mu.RLock()
	recipients := make([]*Member, 0, len(m.bus.channels[m.channel]))
	for id, member := range m.bus.channels[m.channel] {
		if id != m.id {
			recipients = append(recipients, member)
		}
	}
	m.bus.mu.RUnlock()

	delivered := 0
	for _, recipient := range recipients {
		if recipient.deliver(payload) {
			delivered++
		}
	}
	return delivered
}

func (m *Member) Leave() {
	if !m.left.CompareAndSwap(false, true) {
		return
	}

	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()

	set, ok := m.bus.channels[m.channel]
	if !ok {
		return
	}
	if current, exists := set[m.id]; exists && current == m {
		delete(set, m.id)
	}
	if len(set) == 0 {
		delete(m.bus.channels, m.channel)
	}
}

func (m *Member) Channel() string {
	return m.channel
}

// Members reports how many members are joined to channel.
func (b *Bus) Members(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (m *Member) deliver(payload []byte) (ok bool) {
	if m.left.Load() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("broadcast: handler on %s for %s panicked: %v", m.channel, m.id, r)
			ok = false
		}
	}()
	m.handler(payload)
	return true
}
