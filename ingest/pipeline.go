// Package ingest turns content references and raw payloads into canvas
// objects. Ingestion is best effort: failures are logged, never returned.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

// State is the position of one ingestion request in the pipeline.
type State int

const (
	Fetching State = iota
	Converting
	Fallback
	Inserted
	Dropped
	// Passthrough means the request was not meant for the pipeline.
	Passthrough
)

var stateNames = map[State]string{
	Fetching:    "fetching",
	Converting:  "converting",
	Fallback:    "fallback",
	Inserted:    "inserted",
	Dropped:     "dropped",
	Passthrough: "passthrough",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown ingest state %q", text)
}

const (
	// FallbackSize is the edge length of the placeholder image shape.
	FallbackSize = 100

	defaultMaxBytes     = 32 << 20
	defaultFetchTimeout = 30 * time.Second
)

// Drop is a drag-and-drop event forwarded from the browser.
type Drop struct {
	// Data holds the drag payload by MIME-like key.
	Data   map[string]string `json:"data"`
	Client core.Point        `json:"client"`
}

var errUntrustedSource = errors.New("source was not issued by the object store")

type Pipeline struct {
	client    *http.Client
	markerKey string
	maxBytes  int64
	objects   core.ObjectStore
}

// NewPipeline returns a pipeline that fetches with client and accepts drops
// tagged with markerKey. A nil client gets one that only reaches public
// addresses.
func NewPipeline(client *http.Client, markerKey string) *Pipeline {
	if client == nil {
		client = NewPublicClient(defaultFetchTimeout)
	}
	return &Pipeline{client: client, markerKey: markerKey, maxBytes: defaultMaxBytes}
}

// TrustObjects limits fetching to URLs issued by objects. Other URLs go
// straight to the placeholder shape. When objects can serve its own keys
// the bytes are read from it instead of over HTTP.
func (p *Pipeline) TrustObjects(objects core.ObjectStore) {
	p.objects = objects
}

// MarkerKey is the drag payload key the pipeline reacts to.
func (p *Pipeline) MarkerKey() string {
	return p.markerKey
}

func newLogger(source string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"request_id": uuid.NewString(), "source": source})
}

// HandleDrop ingests the URL carried under the marker key at the page
// position of the drop. Drops without the marker are left alone.
func (p *Pipeline) HandleDrop(ctx context.Context, canvas core.Canvas, drop Drop) State {
	ref, ok := drop.Data[p.markerKey]
	if !ok || ref == "" {
		logrus.WithField("keys", len(drop.Data)).Debug("Drop without catalog marker, passing through")
		return Passthrough
	}
	return p.IngestURL(ctx, canvas, ref, canvas.ScreenToPage(drop.Client))
}

// IngestURL fetches ref and imports the bytes at point. When the fetch fails
// a placeholder image shape pointing at ref is inserted instead, centered on
// point.
func (p *Pipeline) IngestURL(ctx context.Context, canvas core.Canvas, ref string, point core.Point) State {
	log := newLogger(ref)

	log.WithField("state", Fetching).Debug("Fetching content")
	data, err := p.load(ctx, ref)
	if err != nil {
		log.WithError(err).WithField("state", Fallback).Warn("Fetch failed, inserting placeholder shape")
		return p.fallback(ctx, canvas, ref, point, log)
	}

	mt := mimetype.Detect(data)
	file := core.File{Name: fileName(ref, mt), MimeType: mt.String(), Data: data}
	return p.convert(ctx, canvas, file, point, log)
}

// IngestBytes imports a payload that is already in hand. An empty MimeType
// is filled in by content sniffing.
func (p *Pipeline) IngestBytes(ctx context.Context, canvas core.Canvas, file core.File, point core.Point) State {
	log := newLogger(file.Name)
	if len(file.Data) == 0 {
		log.WithField("state", Dropped).Warn("Empty payload dropped")
		return Dropped
	}
	if file.MimeType == "" {
		file.MimeType = mimetype.Detect(file.Data).String()
	}
	return p.convert(ctx, canvas, file, point, log)
}

func (p *Pipeline) convert(ctx context.Context, canvas core.Canvas, file core.File, point core.Point, log *logrus.Entry) State {
	log = log.WithFields(logrus.Fields{"name": file.Name, "type": file.MimeType, "size": len(file.Data)})
	log.WithField("state", Converting).Debug("Importing content into canvas")

	if err := canvas.PutExternalContent(ctx, point, []core.File{file}); err != nil {
		log.WithError(err).WithField("state", Dropped).Error("Canvas import failed, dropping content")
		return Dropped
	}
	log.WithField("state", Inserted).Info("Content inserted")
	return Inserted
}

func (p *Pipeline) fallback(ctx context.Context, canvas core.Canvas, ref string, point core.Point, log *logrus.Entry) State {
	if err := canvas.CreateShape(ctx, fallbackShape(ref, point)); err != nil {
		log.WithError(err).WithField("state", Dropped).Error("Placeholder insert failed, dropping content")
		return Dropped
	}
	log.WithField("state", Inserted).Info("Placeholder shape inserted")
	return Inserted
}

// fallbackShape is an image shape referencing ref directly, offset so that
// its center sits on point.
func fallbackShape(ref string, point core.Point) core.Shape {
	return core.Shape{
		Type: "image",
		X:    point.X - FallbackSize/2,
		Y:    point.Y - FallbackSize/2,
		Props: map[string]any{
			"w":   FallbackSize,
			"h":   FallbackSize,
			"url": ref,
		},
	}
}

func (p *Pipeline) load(ctx context.Context, ref string) ([]byte, error) {
	if p.objects == nil {
		return p.fetch(ctx, ref)
	}
	key, ok := p.objects.KeyFromURL(ref)
	if !ok || !cleanKey(key) {
		return nil, fmt.Errorf("fetch %s: %w", ref, errUntrustedSource)
	}
	server, ok := p.objects.(core.ObjectServer)
	if !ok {
		return p.fetch(ctx, ref)
	}
	data, _, err := server.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("content of %s is empty", ref)
	}
	return data, nil
}

// cleanKey rejects keys that would leave the object namespace once the URL
// is resolved.
func cleanKey(key string) bool {
	if key == "" || strings.ContainsAny(key, "?#\\") {
		return false
	}
	return path.Clean("/"+key) == "/"+key
}

func (p *Pipeline) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("content of %s exceeds %d bytes", ref, p.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("content of %s is empty", ref)
	}
	return data, nil
}

// fileName keeps the last path segment of ref when it has an extension, and
// otherwise names the file after its detected type.
func fileName(ref string, mt *mimetype.MIME) string {
	if u, err := url.Parse(ref); err == nil {
		if base := path.Base(u.Path); path.Ext(base) != "" {
			return base
		}
	}
	return "asset" + mt.Extension()
}
