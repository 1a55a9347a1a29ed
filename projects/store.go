// Package projects saves and restores whole-canvas snapshots.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

// Store persists canvas snapshots. Every save creates a new record; names are
// not unique.
type Store struct {
	projects core.ProjectStore
}

func NewStore(projects core.ProjectStore) *Store {
	return &Store{projects: projects}
}

// List returns the owner's snapshots, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]*core.ProjectSnapshot, error) {
	list, err := s.projects.ListProjects(ctx, owner)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": owner, "count": len(list)}).Debug("Listed projects")
	return list, nil
}

// Save inserts payload under name.
func (s *Store) Save(ctx context.Context, owner, name string, payload json.RawMessage) (*core.ProjectSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", core.ErrValidation)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, fmt.Errorf("project payload must be a JSON document: %w", core.ErrValidation)
	}

	project := &core.ProjectSnapshot{Name: name, Owner: owner, Data: payload}
	if err := s.projects.InsertProject(ctx, project); err != nil {
		return nil, fmt.Errorf("save project %q: %w: %w", name, core.ErrPersistence, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    owner,
		"project_id": project.ID,
		"size":       len(payload),
	}).Info("Project saved")
	return project, nil
}

// Get returns one of the owner's snapshots with its payload.
func (s *Store) Get(ctx context.Context, owner, id string) (*core.ProjectSnapshot, error) {
	return s.projects.GetProject(ctx, owner, id)
}

// Load replaces the live document with payload. Whatever the canvas held
// before is discarded, so the caller must have confirmed the load.
func (s *Store) Load(ctx context.Context, canvas core.Canvas, payload json.RawMessage, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("loading a project discards unsaved work, confirmation required: %w", core.ErrValidation)
	}
	if len(payload) == 0 {
		return fmt.Errorf("project payload is empty: %w", core.ErrValidation)
	}
	return canvas.LoadSnapshot(ctx, payload)
}

// Open fetches a snapshot and loads it into the canvas.
func (s *Store) Open(ctx context.Context, canvas core.Canvas, owner, id string, confirmed bool) (*core.ProjectSnapshot, error) {
	if !confirmed {
		return nil, fmt.Errorf("loading a project discards unsaved work, confirmation required: %w", core.ErrValidation)
	}
	project, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if err := s.Load(ctx, canvas, project.Data, confirmed); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": owner, "project_id": id}).Info("Project loaded into canvas")
	return project, nil
}

// Delete removes one of the owner's snapshots. A delete that touches nothing
// is reported as an ownership failure.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	n, err := s.projects.DeleteProject(ctx, owner, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete project %s: %w", id, core.ErrOwnershipDenied)
	}
	logrus.WithFields(logrus.Fields{"user_id": owner, "project_id": id}).Info("Project deleted")
	return nil
}
