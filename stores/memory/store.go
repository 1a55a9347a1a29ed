package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/stores/changefeed"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements AssetStore, ProjectStore and ChangeFeed in memory.
type memStore struct {
	mu       sync.RWMutex
	assets   []*core.Asset
	projects []*core.ProjectSnapshot
	feed     *changefeed.Broadcaster
}

// NewStore creates a new in-memory row store.
func NewStore() *memStore {
	return &memStore{feed: changefeed.NewBroadcaster()}
}

func copyAsset(a *core.Asset) *core.Asset {
	c := *a
	return &c
}

func (s *memStore) Subscribe(ctx context.Context) (<-chan core.AssetChange, error) {
	return s.feed.Subscribe(ctx)
}

func (s *memStore) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]*core.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, copyAsset(a))
	}
	logrus.Debugf("Listed %d assets", len(assets))
	return assets, nil
}

func (s *memStore) GetAsset(ctx context.Context, id string) (*core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assets {
		if a.ID == id {
			return copyAsset(a), nil
		}
	}
	return nil, fmt.Errorf("asset with id %s: %w", id, core.ErrNotFound)
}

func (s *memStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	if asset.Owner == "" {
		return fmt.Errorf("asset owner cannot be empty: %w", core.ErrValidation)
	}
	if asset.ID == "" {
		asset.ID = ulid.Make().String()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.assets = append(s.assets, copyAsset(asset))
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"asset_id": asset.ID, "user_id": asset.Owner}).Info("Asset inserted")
	s.feed.Publish(core.AssetChange{Op: core.OpInsert, AssetID: asset.ID})
	return nil
}

func (s *memStore) RenameAsset(ctx context.Context, caller, id, name string) (int64, error) {
	s.mu.Lock()
	var n int64
	for _, a := range s.assets {
		if a.ID == id && a.Owner == caller {
			a.Name = name
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.feed.Publish(core.AssetChange{Op: core.OpUpdate, AssetID: id})
	}
	return n, nil
}

func (s *memStore) RecategorizeOwned(ctx context.Context, caller, from, to string) (int64, error) {
	s.mu.Lock()
	var n int64
	for _, a := range s.assets {
		if a.Category == from && a.Owner == caller {
			a.Category = to
			n++
		}
	}
	s.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	logrus.WithFields(logrus.Fields{"user_id": caller, "from": from, "to": to, "affected": n}).Info("Category renamed")
	s.feed.Publish(core.AssetChange{Op: core.OpUpdate})
	return n, nil
}

func (s *memStore) DeleteAsset(ctx context.Context, caller, id string) (int64, error) {
	s.mu.Lock()
	var n int64
	kept := s.assets[:0]
	for _, a := range s.assets {
		if a.ID == id && a.Owner == caller {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.assets = kept
	s.mu.Unlock()

	if n > 0 {
		s.feed.Publish(core.AssetChange{Op: core.OpDelete, AssetID: id})
	}
	return n, nil
}

func (s *memStore) ListProjects(ctx context.Context, owner string) ([]*core.ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*core.ProjectSnapshot, 0)
	for _, p := range s.projects {
		if p.Owner != owner {
			continue
		}
		c := *p
		projects = append(projects, &c)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID > projects[j].ID
		}
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})

	logrus.WithField("user_id", owner).Debugf("Listed %d projects", len(projects))
	return projects, nil
}

func (s *memStore) GetProject(ctx context.Context, owner, id string) (*core.ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.ID == id && p.Owner == owner {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("project with id %s: %w", id, core.ErrNotFound)
}

func (s *memStore) InsertProject(ctx context.Context, project *core.ProjectSnapshot) error {
	if project.Owner == "" {
		return fmt.Errorf("project owner cannot be empty: %w", core.ErrValidation)
	}
	if project.ID == "" {
		project.ID = ulid.Make().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}

	c := *project
	s.mu.Lock()
	s.projects = append(s.projects, &c)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"project_id": project.ID, "user_id": project.Owner}).Info("Project saved")
	return nil
}

func (s *memStore) DeleteProject(ctx context.Context, owner, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	kept := s.projects[:0]
	for _, p := range s.projects {
		if p.ID == id && p.Owner == owner {
			n++
			continue
		}
		kept = append(kept, p)
	}
	s.projects = kept
	return n, nil
}
