package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	operationTimeout = 5 * time.Second
	assetsChannel    = "assets_changes"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data JSONB NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS projects_user_created_idx ON projects (user_id, created_at DESC)`,
	`CREATE OR REPLACE FUNCTION notify_assets_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + assetsChannel + `', json_build_object(
			'op', TG_OP,
			'id', COALESCE(NEW.id, OLD.id)
		)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS assets_notify ON assets`,
	`CREATE TRIGGER assets_notify AFTER INSERT OR UPDATE OR DELETE ON assets
		FOR EACH ROW EXECUTE FUNCTION notify_assets_change()`,
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// pgStore talks to a Postgres database (for example a Supabase project).
// Asset notifications come from a table trigger via LISTEN/NOTIFY.
type pgStore struct {
	dsn    string
	openDB sqlOpenFunc

	mu sync.Mutex
	db *sql.DB
}

// NewStore returns a store that connects lazily on first use.
func NewStore(dsn string) (*pgStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required: %w", core.ErrValidation)
	}
	return &pgStore{dsn: dsn, openDB: sql.Open}, nil
}

// ensureReady connects and applies the schema once. Setup runs on its own
// timeout so a cancelled request cannot fail it, and a failed attempt is
// retried by the next caller.
func (s *pgStore) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	db, err := s.openDB("postgres", s.dsn)
	if err != nil {
		return transport("connect", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return transport("connect", fmt.Errorf("apply schema: %w", err))
		}
	}
	s.db = db
	return nil
}

func transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrTransport, err)
}

func (s *pgStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.ensureReady(); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	return ctx, cancel, nil
}

func (s *pgStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *pgStore) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, url, category, user_id, created_at FROM assets ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, transport("list assets", err)
	}
	defer rows.Close()

	assets := make([]*core.Asset, 0)
	for rows.Next() {
		var a core.Asset
		var category sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &category, &a.Owner, &a.CreatedAt); err != nil {
			return nil, transport("scan asset", err)
		}
		a.Category = category.String
		assets = append(assets, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, transport("list assets", err)
	}
	return assets, nil
}

func (s *pgStore) GetAsset(ctx context.Context, id string) (*core.Asset, error) {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var a core.Asset
	err = s.db.QueryRowContext(ctx, "SELECT id, name, url, category, user_id, created_at FROM assets WHERE id = $1", id).
		Scan(&a.ID, &a.Name, &a.URL, &a.Category, &a.Owner, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset with id %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, transport("get asset", err)
	}
	return &a, nil
}

func (s *pgStore) InsertAsset(ctx context.Context, asset *core.Asset) error {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if asset.ID == "" {
		asset.ID = ulid.Make().String()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO assets (id, name, url, category, user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		asset.ID, asset.Name, asset.URL, asset.Category, asset.Owner, asset.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithField("asset_id", asset.ID).Error("Failed to insert asset")
		return transport("insert asset", err)
	}
	return nil
}

func (s *pgStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, transport(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, transport(op, err)
	}
	return n, nil
}

func (s *pgStore) RenameAsset(ctx context.Context, caller, id, name string) (int64, error) {
	return s.exec(ctx, "rename asset", "UPDATE assets SET name = $1 WHERE id = $2 AND user_id = $3", name, id, caller)
}

func (s *pgStore) RecategorizeOwned(ctx context.Context, caller, from, to string) (int64, error) {
	return s.exec(ctx, "rename category", "UPDATE assets SET category = $1 WHERE COALESCE(category, '') = $2 AND user_id = $3", to, from, caller)
}

func (s *pgStore) DeleteAsset(ctx context.Context, caller, id string) (int64, error) {
	return s.exec(ctx, "delete asset", "DELETE FROM assets WHERE id = $1 AND user_id = $2", id, caller)
}

func (s *pgStore) ListProjects(ctx context.Context, owner string) ([]*core.ProjectSnapshot, error) {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, user_id, created_at FROM projects WHERE user_id = $1 ORDER BY created_at DESC, id DESC", owner)
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

func (s *pgStore) GetProject(ctx context.Context, owner, id string) (*core.ProjectSnapshot, error) {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var p core.ProjectSnapshot
	var data []byte
	err = s.db.QueryRowContext(ctx,
		"SELECT id, name, user_id, created_at, data FROM projects WHERE id = $1 AND user_id = $2", id, owner).
		Scan(&p.ID, &p.Name, &p.Owner, &p.CreatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project with id %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, transport("get project", err)
	}
	p.Data = json.RawMessage(data)
	return &p, nil
}

func (s *pgStore) InsertProject(ctx context.Context, project *core.ProjectSnapshot) error {
	ctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if project.ID == "" {
		project.ID = ulid.Make().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, data, user_id, created_at) VALUES ($1, $2, $3, $4, $5)",
		project.ID, project.Name, string(project.Data), project.Owner, project.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithField("project_id", project.ID).Error("Failed to insert project")
		return transport("insert project", err)
	}
	return nil
}

func (s *pgStore) DeleteProject(ctx context.Context, owner, id string) (int64, error) {
	return s.exec(ctx, "delete project", "DELETE FROM projects WHERE id = $1 AND user_id = $2", id, owner)
}
