package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesOtherMembersOnly(t *testing.T) {
	bus := NewBus()

	var gotA, gotB, gotOther [][]byte
	a := bus.Join("typing:conversation:1", "a", func(p []byte) { gotA = append(gotA, p) })
	bus.Join("typing:conversation:1", "b", func(p []byte) { gotB = append(gotB, p) })
	bus.Join("typing:conversation:2", "c", func(p []byte) { gotOther = append(gotOther, p) })

	delivered := a.Publish([]byte("hello"))

	assert.Equal(t, 1, delivered)
	assert.Empty(t, gotA)
	assert.Equal(t, [][]byte{[]byte("hello")}, gotB)
	assert.Empty(t, gotOther)
}

func TestLeaveStopsSendingAndReceiving(t *testing.T) {
	bus := NewBus()

	received := 0
	a := bus.Join("room", "a", func([]byte) { received++ })
	b := bus.Join("room", "b", func([]byte) {})

	a.Leave()
	a.Leave()

	assert.Equal(t, 0, a.Publish([]byte("x")))
	assert.Equal(t, 0, b.Publish([]byte("y")))
	assert.Equal(t, 0, received)
	assert.Equal(t, 1, bus.Members("room"))

	b.Leave()
	assert.Equal(t, 0, bus.Members("room"))
}

func TestRejoinReplacesMembership(t *testing.T) {
	bus := NewBus()

	first, second := 0, 0
	old := bus.Join("room", "a", func([]byte) { first++ })
	bus.Join("room", "a", func([]byte) { second++ })
	sender := bus.Join("room", "b", func([]byte) {})

	sender.Publish([]byte("x"))
	old.Leave()
	sender.Publish([]byte("y"))

	assert.Equal(t, 0, first)
	assert.Equal(t, 2, second)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	bus := NewBus()

	bus.Join("room", "bad", func([]byte) { panic("boom") })
	good := 0
	bus.Join("room", "good", func([]byte) { good++ })
	sender := bus.Join("room", "sender", func([]byte) {})

	assert.Equal(t, 1, sender.Publish([]byte("x")))
	assert.Equal(t, 1, good)
}
