package core

import "context"

type (
	// ObjectStore holds the raw bytes behind asset URLs.
	ObjectStore interface {
		Put(ctx context.Context, key, contentType string, data []byte) error
		PublicURL(key string) string
		// KeyFromURL reverses PublicURL. ok is false for URLs this store did not issue.
		KeyFromURL(url string) (key string, ok bool)
		Remove(ctx context.Context, key string) error
	}

	// ObjectServer is implemented by object stores that serve their own
	// public URLs (memory and filesystem).
	ObjectServer interface {
		Open(ctx context.Context, key string) (data []byte, contentType string, err error)
	}
)
