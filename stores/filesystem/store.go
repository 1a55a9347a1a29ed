package filesystem

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

// fsStore keeps objects as files under basePath and serves them under
// {baseURL}/objects/{key}.
type fsStore struct {
	basePath string
	baseURL  string
}

// NewStore creates a new filesystem-based object store.
func NewStore(basePath, publicBaseURL string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(publicBaseURL, "/") + "/objects/",
	}
}

// objectPath resolves key inside basePath and rejects anything escaping it.
func (s *fsStore) objectPath(key string) (string, error) {
	if key == "" || filepath.Base(key) != key {
		return "", fmt.Errorf("invalid object key %q: %w", key, core.ErrValidation)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(s.basePath, key))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied: %w", core.ErrValidation)
	}
	return absFile, nil
}

func (s *fsStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	filePath, err := s.objectPath(key)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"key": key, "path": filePath, "size": len(data)})

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write object")
		return fmt.Errorf("write object %s: %w: %v", key, core.ErrTransport, err)
	}
	log.Debug("Object written")
	return nil
}

func (s *fsStore) PublicURL(key string) string {
	return s.baseURL + key
}

func (s *fsStore) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, s.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, s.baseURL)
	_, err := s.objectPath(key)
	return key, err == nil
}

func (s *fsStore) Remove(ctx context.Context, key string) error {
	filePath, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s: %w", key, core.ErrNotFound)
		}
		return fmt.Errorf("remove object %s: %w: %v", key, core.ErrTransport, err)
	}
	return nil
}

func (s *fsStore) Open(ctx context.Context, key string) ([]byte, string, error) {
	filePath, err := s.objectPath(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("object %s: %w", key, core.ErrNotFound)
		}
		return nil, "", fmt.Errorf("read object %s: %w: %v", key, core.ErrTransport, err)
	}
	return data, mimetype.Detect(data).String(), nil
}
