package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/stores/changefeed"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db   *sql.DB
	feed *changefeed.Broadcaster
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	store, err := Open(dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	return store
}

// Open opens the database and creates the assets and projects tables.
func Open(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	assetTableStmt := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(assetTableStmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create assets table: %w", err)
	}

	projectTableStmt := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(projectTableStmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create projects table: %w", err)
	}

	return &sqliteStore{db: db, feed: changefeed.NewBroadcaster()}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrTransport, err)
}

func (s *sqliteStore) Subscribe(ctx context.Context) (<-chan core.AssetChange, error) {
	return s.feed.Subscribe(ctx)
}

func scanAsset(scan func(dest ...any) error) (*core.Asset, error) {
	var asset core.Asset
	var category sql.NullString
	if err := scan(&asset.ID, &asset.Name, &asset.URL, &category, &asset.Owner, &asset.CreatedAt); err != nil {
		return nil, err
	}
	asset.Category = category.String
	return &asset, nil
}

func (s *sqliteStore) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, url, category, user_id, created_at FROM assets ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, transport("list assets", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close asset rows")
		}
	}()

	assets := make([]*core.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, transport("scan asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("list assets", err)
	}
	return assets, nil
}

func (s *sqliteStore) GetAsset(ctx context.Context, id string) (*core.Asset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, url, category, user_id, created_at FROM assets WHERE id = ?", id)
	asset, err := scanAsset(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset with id %s: %w", id, core.ErrNotFound)
		}
		return nil, transport("get asset", err)
	}
	return asset, nil
}

func (s *sqliteStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	if asset.ID == "" {
		asset.ID = ulid.Make().String()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}
	log := logrus.WithFields(logrus.Fields{"asset_id": asset.ID, "user_id": asset.Owner})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO assets (id, name, url, category, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		asset.ID, asset.Name, asset.URL, asset.Category, asset.Owner, asset.CreatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to insert asset")
		return transport("insert asset", err)
	}

	log.Info("Asset inserted")
	s.feed.Publish(core.AssetChange{Op: core.OpInsert, AssetID: asset.ID})
	return nil
}

func (s *sqliteStore) exec(ctx context.Context, op string, change core.AssetChange, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, transport(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, transport(op, err)
	}
	if n > 0 {
		s.feed.Publish(change)
	}
	return n, nil
}

func (s *sqliteStore) RenameAsset(ctx context.Context, caller, id, name string) (int64, error) {
	return s.exec(ctx, "rename asset", core.AssetChange{Op: core.OpUpdate, AssetID: id},
		"UPDATE assets SET name = ? WHERE id = ? AND user_id = ?", name, id, caller)
}

func (s *sqliteStore) RecategorizeOwned(ctx context.Context, caller, from, to string) (int64, error) {
	return s.exec(ctx, "rename category", core.AssetChange{Op: core.OpUpdate},
		"UPDATE assets SET category = ? WHERE COALESCE(category, '') = ? AND user_id = ?", to, from, caller)
}

func (s *sqliteStore) DeleteAsset(ctx context.Context, caller, id string) (int64, error) {
	return s.exec(ctx, "delete asset", core.AssetChange{Op: core.OpDelete, AssetID: id},
		"DELETE FROM assets WHERE id = ? AND user_id = ?", id, caller)
}

func (s *sqliteStore) ListProjects(ctx context.Context, owner string) ([]*core.ProjectSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, user_id, created_at FROM projects WHERE user_id = ? ORDER BY created_at DESC, id DESC", owner)
	if err != nil {
		return nil, transport("list projects", err)
	}
	defer rows.Close()

	projects := make([]*core.ProjectSnapshot, 0)
	for rows.Next() {
		var p core.ProjectSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.Owner, &p.CreatedAt); err != nil {
			return nil, transport("scan project", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("list projects", err)
	}
	return projects, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, owner, id string) (*core.ProjectSnapshot, error) {
	var p core.ProjectSnapshot
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, user_id, created_at, data FROM projects WHERE id = ? AND user_id = ?", id, owner).
		Scan(&p.ID, &p.Name, &p.Owner, &p.CreatedAt, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project with id %s: %w", id, core.ErrNotFound)
		}
		return nil, transport("get project", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("project %s holds malformed data: %w", id, core.ErrTransport)
	}
	p.Data = json.RawMessage(data)
	return &p, nil
}

func (s *sqliteStore) InsertProject(ctx context.Context, project *core.ProjectSnapshot) error {
	if project.ID == "" {
		project.ID = ulid.Make().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	log := logrus.WithFields(logrus.Fields{
		"project_id":  project.ID,
		"user_id":     project.Owner,
		"data_length": len(project.Data),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, data, user_id, created_at) VALUES (?, ?, ?, ?, ?)",
		project.ID, project.Name, []byte(project.Data), project.Owner, project.CreatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to insert project")
		return transport("insert project", err)
	}
	log.Info("Project saved")
	return nil
}

func (s *sqliteStore) DeleteProject(ctx context.Context, owner, id string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ? AND user_id = ?", id, owner)
	if err != nil {
		return 0, transport("delete project", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, transport("delete project", err)
	}
	return n, nil
}
