package core

import (
	"context"
	"time"
)

type (
	// Asset is a named, categorized reference to a stored image.
	// Owner is set on insert and never changes afterwards.
	Asset struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Category  string    `json:"category"`
		URL       string    `json:"url"`
		Owner     string    `json:"user_id"`
		CreatedAt time.Time `json:"created_at"`
	}

	// AssetStore is the row-level view of the `assets` table.
	// Mutations are scoped to the calling identity: a row the caller does not
	// own is never touched, and the returned count reports that.
	AssetStore interface {
		// ListAssets returns every asset visible to the service, oldest first.
		ListAssets(ctx context.Context) ([]*Asset, error)

		// GetAsset returns a single asset by ID.
		GetAsset(ctx context.Context, id string) (*Asset, error)

		// InsertAsset stores a new asset. ID and CreatedAt are assigned when empty.
		InsertAsset(ctx context.Context, asset *Asset) error

		// RenameAsset sets the display name of an asset owned by caller.
		RenameAsset(ctx context.Context, caller, id, name string) (int64, error)

		// RecategorizeOwned sets category = to for all of caller's assets where
		// category = from.
		RecategorizeOwned(ctx context.Context, caller, from, to string) (int64, error)

		// DeleteAsset removes an asset owned by caller.
		DeleteAsset(ctx context.Context, caller, id string) (int64, error)
	}

	// AssetChange is a notification that the assets table was modified.
	AssetChange struct {
		Op      string `json:"op"`
		AssetID string `json:"id"`
	}

	// ChangeFeed delivers AssetChange notifications until ctx is done.
	ChangeFeed interface {
		Subscribe(ctx context.Context) (<-chan AssetChange, error)
	}
)

// Asset change operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)
