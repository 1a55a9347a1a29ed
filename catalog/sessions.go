package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

const (
	// IdleTimeout is how long a session without a connected browser is kept
	// after its last request.
	IdleTimeout = 30 * time.Minute

	sweepInterval   = time.Minute
	minWatchBackoff = time.Second
	maxWatchBackoff = time.Minute
)

// Notifier is told when a user's catalog changed without the user asking.
// Only users it reports as connected are refreshed in the background.
type Notifier interface {
	Connected(user string) bool
	CatalogChanged(user string)
}

type session struct {
	reconciler *Reconciler
	lastSeen   time.Time
	// stale is set when a change arrived while nobody was watching.
	stale bool
}

// Sessions holds one Reconciler per signed-in user.
type Sessions struct {
	assets   core.AssetStore
	objects  core.ObjectStore
	fallback string
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(assets core.AssetStore, objects core.ObjectStore, fallback string) *Sessions {
	return &Sessions{
		assets:   assets,
		objects:  objects,
		fallback: fallback,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// SetNotifier registers the receiver of background change notices.
func (s *Sessions) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Get returns the user's reconciler, creating and refreshing it on first use.
// A session that missed background changes is refreshed before it is returned.
func (s *Sessions) Get(ctx context.Context, user string) *Reconciler {
	s.mu.Lock()
	sess, ok := s.sessions[user]
	if !ok {
		sess = &session{reconciler: NewReconciler(user, s.assets, s.objects, s.fallback)}
		s.sessions[user] = sess
	}
	sess.lastSeen = s.now()
	refresh := !ok || sess.stale
	sess.stale = false
	s.mu.Unlock()

	if !ok {
		logrus.WithField("user_id", user).Debug("Catalog session created")
	}
	if refresh {
		sess.reconciler.Refresh(ctx)
	}
	return sess.reconciler
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reset drops the user's session so the next request starts from a fresh cache.
func (s *Sessions) Reset(user string) {
	s.mu.Lock()
	delete(s.sessions, user)
	s.mu.Unlock()
	logrus.WithField("user_id", user).Info("Catalog session reset")
}

// Sweep drops sessions idle for longer than IdleTimeout whose user has no
// connected browser.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-IdleTimeout)
	evicted := 0
	for user, sess := range s.sessions {
		if sess.lastSeen.After(cutoff) {
			continue
		}
		if s.notifier != nil && s.notifier.Connected(user) {
			continue
		}
		delete(s.sessions, user)
		evicted++
	}
	if evicted > 0 {
		logrus.WithField("evicted", evicted).Debug("Idle catalog sessions evicted")
	}
	return evicted
}

// live returns the sessions of connected users and marks the rest stale.
func (s *Sessions) live() ([]*Reconciler, Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Reconciler, 0)
	for user, sess := range s.sessions {
		if s.notifier == nil || !s.notifier.Connected(user) {
			sess.stale = true
			continue
		}
		out = append(out, sess.reconciler)
	}
	return out, s.notifier
}

// RefreshAll refreshes the sessions of connected users and notifies them.
// Other sessions refresh on their next request.
func (s *Sessions) RefreshAll(ctx context.Context) {
	sessions, notifier := s.live()
	for _, r := range sessions {
		r.Refresh(ctx)
		notifier.CatalogChanged(r.User())
	}
}

// Watch consumes the change feed until ctx is done or the feed closes.
func (s *Sessions) Watch(ctx context.Context, feed core.ChangeFeed) error {
	changes, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	logrus.Info("Watching asset changes")

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			s.Sweep()
		case change, ok := <-changes:
			if !ok {
				logrus.Warn("Asset change feed closed")
				return nil
			}
			logrus.WithFields(logrus.Fields{"op": change.Op, "asset_id": change.AssetID}).Debug("Asset change received")
			s.RefreshAll(ctx)
		}
	}
}

// Follow keeps Watch running until ctx is done, resubscribing with an
// exponential backoff after the feed fails or closes. Every session is
// marked stale on each resubscribe since changes may have been missed.
func (s *Sessions) Follow(ctx context.Context, feed core.ChangeFeed) {
	s.follow(ctx, feed, minWatchBackoff, maxWatchBackoff)
}

func (s *Sessions) follow(ctx context.Context, feed core.ChangeFeed, minDelay, maxDelay time.Duration) {
	delay := minDelay
	for {
		started := s.now()
		err := s.Watch(ctx, feed)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).WithField("retry_in", delay).Error("Asset change feed failed")
		}
		if s.now().Sub(started) > maxDelay {
			delay = minDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
		s.markStale()
	}
}

func (s *Sessions) markStale() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.stale = true
	}
	s.mu.Unlock()
}
