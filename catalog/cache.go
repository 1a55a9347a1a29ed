package catalog

import (
	"fmt"
	"strings"

	"github.com/microbiomeViz/Picture-library/core"
)

// categoryState tells whether a category is backed by remote assets or only
// declared locally.
type categoryState int

const (
	// Declared categories exist only in this cache and vanish on the next
	// refresh unless an asset has been filed into them.
	Declared categoryState = iota
	// Persisted categories are backed by at least one remote asset.
	Persisted
)

func (s categoryState) String() string {
	if s == Persisted {
		return "persisted"
	}
	return "declared"
}

func (s categoryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *categoryState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "persisted":
		*s = Persisted
	case "declared":
		*s = Declared
	default:
		return fmt.Errorf("unknown category state %q", text)
	}
	return nil
}

type bucket struct {
	state  categoryState
	assets []*core.Asset
}

// cache maps category labels to ordered asset lists. Label order is the order
// of first appearance in the fetched rows, followed by declared labels in
// declaration order.
type cache struct {
	order   []string
	buckets map[string]*bucket
}

func newCache() *cache {
	return &cache{buckets: make(map[string]*bucket)}
}

// buildCache partitions assets by category. Assets with an empty category go
// to fallback. An empty input yields a single empty fallback bucket.
func buildCache(assets []*core.Asset, fallback string) *cache {
	c := newCache()
	for _, a := range assets {
		label := strings.TrimSpace(a.Category)
		if label == "" {
			label = fallback
		}
		b, ok := c.buckets[label]
		if !ok {
			b = &bucket{state: Persisted}
			c.buckets[label] = b
			c.order = append(c.order, label)
		}
		b.assets = append(b.assets, a)
	}
	if len(c.order) == 0 {
		c.declare(fallback)
	}
	return c
}

// storedLabels returns the raw category values filed under label: label
// itself, the untrimmed spellings seen in the last fetch, and the empty
// value when label is the fallback.
func (c *cache) storedLabels(label, fallback string) []string {
	labels := []string{label}
	seen := map[string]bool{label: true}
	add := func(raw string) {
		if !seen[raw] {
			seen[raw] = true
			labels = append(labels, raw)
		}
	}
	if label == fallback {
		add("")
	}
	if b, ok := c.buckets[label]; ok {
		for _, a := range b.assets {
			add(a.Category)
		}
	}
	return labels
}

func (c *cache) has(label string) bool {
	_, ok := c.buckets[label]
	return ok
}

func (c *cache) declare(label string) {
	c.buckets[label] = &bucket{state: Declared}
	c.order = append(c.order, label)
}

func (c *cache) first() string {
	if len(c.order) == 0 {
		return ""
	}
	return c.order[0]
}

// filter returns the assets of label whose name contains term (case-sensitive).
func (c *cache) filter(label, term string) []*core.Asset {
	b, ok := c.buckets[label]
	if !ok {
		return []*core.Asset{}
	}
	out := make([]*core.Asset, 0, len(b.assets))
	for _, a := range b.assets {
		if strings.Contains(a.Name, term) {
			out = append(out, a)
		}
	}
	return out
}
