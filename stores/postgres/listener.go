package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/schema"
	"github.com/sirupsen/logrus"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
)

// OpResync is sent after the listener reconnects; notifications may have been
// missed while it was down.
const OpResync = "RESYNC"

var changeSchema = schema.MustCompile("asset-change.json", `{
	"type": "object",
	"required": ["op"],
	"properties": {
		"op": {"enum": ["INSERT", "UPDATE", "DELETE"]},
		"id": {"type": ["string", "null"]}
	}
}`)

// decodeNotification turns a NOTIFY payload into an AssetChange.
func decodeNotification(payload string) (core.AssetChange, error) {
	var raw struct {
		Op string  `json:"op"`
		ID *string `json:"id"`
	}
	if err := changeSchema.Decode([]byte(payload), &raw); err != nil {
		return core.AssetChange{}, err
	}
	change := core.AssetChange{Op: raw.Op}
	if raw.ID != nil {
		change.AssetID = *raw.ID
	}
	return change, nil
}

// Subscribe listens on the assets channel until ctx is done.
func (s *pgStore) Subscribe(ctx context.Context) (<-chan core.AssetChange, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	log := logrus.WithField("channel", assetsChannel)
	listener := pq.NewListener(s.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).Warn("Asset listener event")
		}
	})
	if err := listener.Listen(assetsChannel); err != nil {
		_ = listener.Close()
		return nil, transport("listen", err)
	}

	out := make(chan core.AssetChange, 16)
	go func() {
		defer close(out)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				change := core.AssetChange{Op: OpResync}
				if n != nil {
					decoded, err := decodeNotification(n.Extra)
					if err != nil {
						log.WithError(err).Warn("Ignoring malformed asset notification")
						continue
					}
					change = decoded
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-time.After(listenerPingInterval):
				go func() {
					if err := listener.Ping(); err != nil {
						log.WithError(err).Debug("Asset listener ping failed")
					}
				}()
			}
		}
	}()

	log.Info("Listening for asset changes")
	return out, nil
}
