package core

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// ProjectSnapshot is a named, fully serialized canvas document.
	// Data is owned by the canvas editor and is never inspected here.
	ProjectSnapshot struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Owner     string          `json:"user_id"`
		CreatedAt time.Time       `json:"created_at"`
		Data      json.RawMessage `json:"data,omitempty"`
	}

	// ProjectStore is the row-level view of the `projects` table.
	// Records are only visible to their owner.
	ProjectStore interface {
		// ListProjects returns the owner's snapshots, newest first.
		ListProjects(ctx context.Context, owner string) ([]*ProjectSnapshot, error)

		// GetProject returns one snapshot including its payload.
		GetProject(ctx context.Context, owner, id string) (*ProjectSnapshot, error)

		// InsertProject always creates a new record.
		InsertProject(ctx context.Context, project *ProjectSnapshot) error

		// DeleteProject removes a snapshot and reports how many rows went away.
		DeleteProject(ctx context.Context, owner, id string) (int64, error)
	}
)
