package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/broadcast"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinPair(t *testing.T, mock *clock.Mock) (*broadcast.Bus, *TypingChannel, *TypingChannel) {
	t.Helper()
	bus := broadcast.NewBus()
	opts := Options{Clock: mock}
	a := Join(bus, 11, Viewer{UserID: 1, DisplayName: "Ana"}, opts)
	b := Join(bus, 11, Viewer{UserID: 2, DisplayName: "Ben"}, opts)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return bus, a, b
}

func userIDs(signals []models.TypingSignal) []int64 {
	ids := make([]int64, 0, len(signals))
	for _, signal := range signals {
		ids = append(ids, signal.UserID)
	}
	return ids
}

func TestTypingSignalExpiresWithoutExplicitStop(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	require.NoError(t, a.Announce(true))
	assert.Equal(t, []int64{1}, userIDs(b.TypingUsers()))

	mock.Add(3100 * time.Millisecond)

	assert.Empty(t, b.TypingUsers())
}

func TestSignalWithinWindowIsStillVisible(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	require.NoError(t, a.Announce(true))
	mock.Add(2900 * time.Millisecond)

	users := b.TypingUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "Ana", users[0].DisplayName)
}

func TestViewerNeverSeesItself(t *testing.T) {
	mock := clock.NewMock()
	bus, a, _ := joinPair(t, mock)

	otherTab := Join(bus, 11, Viewer{UserID: 1, DisplayName: "Ana", SessionID: "tab-2"}, Options{Clock: mock})
	defer otherTab.Close()

	require.NoError(t, a.Announce(true))
	require.NoError(t, otherTab.Announce(true))

	assert.Empty(t, a.TypingUsers())
	assert.Empty(t, otherTab.TypingUsers())
}

func TestExplicitStopRemovesEntryImmediately(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	require.NoError(t, a.Announce(true))
	require.Len(t, b.TypingUsers(), 1)

	require.NoError(t, a.Announce(false))
	assert.Empty(t, b.TypingUsers())
}

func TestUserStaysTypingWhileAnySessionIs(t *testing.T) {
	mock := clock.NewMock()
	bus, a, b := joinPair(t, mock)
	secondTab := Join(bus, 11, Viewer{UserID: 1, DisplayName: "Ana", SessionID: "tab-2"}, Options{Clock: mock})
	defer secondTab.Close()

	var mu sync.Mutex
	updates := 0
	b.OnChange(func([]models.TypingSignal) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	})

	require.NoError(t, a.Announce(true))
	require.NoError(t, secondTab.Announce(true))
	assert.Equal(t, []int64{1}, userIDs(b.TypingUsers()))

	require.NoError(t, a.Announce(false))
	assert.Equal(t, []int64{1}, userIDs(b.TypingUsers()), "the other tab is still typing")

	secondTab.Close()
	assert.Equal(t, []int64{1}, userIDs(b.TypingUsers()), "closing an idle tab announces nothing")

	mu.Lock()
	assert.Equal(t, 1, updates, "only the first session to start changes the list")
	mu.Unlock()

	mock.Add(3100 * time.Millisecond)
	assert.Empty(t, b.TypingUsers())
}

func TestStaleSessionDoesNotHideLiveOne(t *testing.T) {
	mock := clock.NewMock()
	bus, a, b := joinPair(t, mock)
	secondTab := Join(bus, 11, Viewer{UserID: 1, DisplayName: "Ana", SessionID: "tab-2"}, Options{Clock: mock})
	defer secondTab.Close()

	require.NoError(t, a.Announce(true))
	mock.Add(2 * time.Second)
	require.NoError(t, secondTab.Announce(true))
	mock.Add(1500 * time.Millisecond)

	b.sweep()
	users := b.TypingUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "tab-2", users[0].SessionID)
}

func TestSweepDropsStaleEntriesAndNotifies(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	var mu sync.Mutex
	var updates [][]models.TypingSignal
	b.OnChange(func(signals []models.TypingSignal) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, signals)
	})

	require.NoError(t, a.Announce(true))
	mock.Add(3500 * time.Millisecond)
	b.sweep()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, []int64{1}, userIDs(updates[0]))
	assert.Empty(t, updates[len(updates)-1])
}

func TestActivityMovesBetweenIdleAndAnnouncing(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	assert.Equal(t, StateIdle, a.State())
	require.NoError(t, a.Activity())
	assert.Equal(t, StateAnnouncing, a.State())
	assert.Equal(t, []int64{1}, userIDs(b.TypingUsers()))

	mock.Add(2 * time.Second)
	require.NoError(t, a.Activity())
	mock.Add(2 * time.Second)
	assert.Equal(t, StateAnnouncing, a.State())
	assert.Len(t, b.TypingUsers(), 1)

	mock.Add(time.Second + 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return a.State() == StateIdle && len(b.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopEndsAnnouncement(t *testing.T) {
	mock := clock.NewMock()
	_, a, b := joinPair(t, mock)

	require.NoError(t, a.Activity())
	require.NoError(t, a.Stop())

	assert.Equal(t, StateIdle, a.State())
	assert.Empty(t, b.TypingUsers())
	assert.NoError(t, a.Stop())
}

func TestCloseTearsDownChannel(t *testing.T) {
	mock := clock.NewMock()
	bus, a, b := joinPair(t, mock)

	require.NoError(t, a.Activity())
	require.Len(t, b.TypingUsers(), 1)
	require.Equal(t, 2, bus.Members(ChannelName(11)))

	a.Close()
	a.Close()

	assert.Empty(t, b.TypingUsers())
	assert.Equal(t, 1, bus.Members(ChannelName(11)))
	assert.ErrorIs(t, a.Announce(true), ErrChannelClosed)
	assert.ErrorIs(t, a.Activity(), ErrChannelClosed)

	require.NoError(t, b.Announce(true))
	assert.Empty(t, a.TypingUsers())
}
