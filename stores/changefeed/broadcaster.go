// Package changefeed fans asset change notifications out to subscribers for
// stores that have no native notification channel.
package changefeed

import (
	"context"
	"sync"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 16

type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan core.AssetChange]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan core.AssetChange]struct{})}
}

// Subscribe returns a channel that is closed once ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan core.AssetChange, error) {
	ch := make(chan core.AssetChange, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Publish never blocks. A subscriber with a full buffer misses the event;
// any later event still triggers a full refresh, so nothing is lost for good.
func (b *Broadcaster) Publish(change core.AssetChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- change:
		default:
			logrus.WithField("op", change.Op).Debug("Change subscriber is behind, dropping notification")
		}
	}
}
