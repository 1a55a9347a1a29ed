package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/stores/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	users     []string
	ch        chan string
	connected map[string]bool
}

func (n *recordingNotifier) Connected(user string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[user]
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.users...)
}

func (n *recordingNotifier) CatalogChanged(user string) {
	n.mu.Lock()
	n.users = append(n.users, user)
	n.mu.Unlock()
	select {
	case n.ch <- user:
	default:
	}
}

func TestSessionsGetAndReset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "Instruments")
	s := NewSessions(store, memory.NewObjectStore("http://x"), fallback)

	a := s.Get(ctx, "U")
	assert.Same(t, a, s.Get(ctx, "U"))
	assert.Equal(t, []string{"Instruments"}, labels(a.View()), "new session starts refreshed")
	assert.NotSame(t, a, s.Get(ctx, "V"))

	require.NoError(t, a.CreateCategory("Scratch"))
	s.Reset("U")
	b := s.Get(ctx, "U")
	assert.NotSame(t, a, b)
	assert.Equal(t, []string{"Instruments"}, labels(b.View()))
}

func TestSessionsWatchRefreshesOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	s := NewSessions(store, memory.NewObjectStore("http://x"), fallback)
	notifier := &recordingNotifier{ch: make(chan string, 4), connected: map[string]bool{"U": true}}
	s.SetNotifier(notifier)
	r := s.Get(ctx, "U")

	errc := make(chan error, 1)
	go func() { errc <- s.Watch(ctx, store) }()

	// Subscription is asynchronous; keep inserting until the watcher reacts.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for done := false; !done; {
		select {
		case user := <-notifier.ch:
			assert.Equal(t, "U", user)
			done = true
		case <-tick.C:
			seed(t, store, "V", "remote", "Shared")
		case <-deadline:
			t.Fatal("watcher never refreshed")
		}
	}
	assert.Contains(t, labels(r.View()), "Shared")

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestSessionsRefreshOnlyConnectedUsers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := NewSessions(store, memory.NewObjectStore("http://x"), fallback)
	notifier := &recordingNotifier{ch: make(chan string, 4), connected: map[string]bool{"U": true}}
	s.SetNotifier(notifier)

	u := s.Get(ctx, "U")
	v := s.Get(ctx, "V")
	seed(t, store, "W", "remote", "Shared")

	s.RefreshAll(ctx)

	assert.Equal(t, []string{"U"}, notifier.notified())
	assert.Contains(t, labels(u.View()), "Shared")
	assert.NotContains(t, labels(v.View()), "Shared", "offline session is not refreshed in the background")

	assert.Same(t, v, s.Get(ctx, "V"))
	assert.Contains(t, labels(v.View()), "Shared", "stale session refreshes on its next request")
}

func TestSessionsSweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions(memory.NewStore(), memory.NewObjectStore("http://x"), fallback)
	s.now = func() time.Time { return now }
	s.SetNotifier(&recordingNotifier{ch: make(chan string, 1), connected: map[string]bool{"U": true}})

	s.Get(ctx, "U")
	s.Get(ctx, "V")
	now = now.Add(10 * time.Minute)
	s.Get(ctx, "W")

	assert.Zero(t, s.Sweep())

	now = now.Add(IdleTimeout - 5*time.Minute)
	assert.Equal(t, 1, s.Sweep(), "only the idle, disconnected session goes")
	assert.Equal(t, 2, s.Len())
}

// failingFeed fails the first subscriptions and then delegates.
type failingFeed struct {
	core.ChangeFeed
	failures   int32
	subscribes atomic.Int32
}

func (f *failingFeed) Subscribe(ctx context.Context) (<-chan core.AssetChange, error) {
	if f.subscribes.Add(1) <= f.failures {
		return nil, errors.New("listener unavailable")
	}
	return f.ChangeFeed.Subscribe(ctx)
}

func TestSessionsFollowResubscribesAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	s := NewSessions(store, memory.NewObjectStore("http://x"), fallback)
	notifier := &recordingNotifier{ch: make(chan string, 4), connected: map[string]bool{"U": true}}
	s.SetNotifier(notifier)
	s.Get(ctx, "U")

	feed := &failingFeed{ChangeFeed: store, failures: 2}
	done := make(chan struct{})
	go func() {
		s.follow(ctx, feed, time.Millisecond, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for got := false; !got; {
		select {
		case <-notifier.ch:
			got = true
		case <-tick.C:
			seed(t, store, "V", "remote", "Shared")
		case <-deadline:
			t.Fatal("feed was never resubscribed")
		}
	}
	assert.GreaterOrEqual(t, feed.subscribes.Load(), int32(3))

	cancel()
	<-done
}
