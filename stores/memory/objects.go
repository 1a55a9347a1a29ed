package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/microbiomeViz/Picture-library/core"
)

type object struct {
	contentType string
	data        []byte
}

// objectStore keeps uploaded bytes in memory and serves them under
// {baseURL}/objects/{key}.
type objectStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]object
}

func NewObjectStore(baseURL string) *objectStore {
	return &objectStore{
		baseURL: strings.TrimRight(baseURL, "/") + "/objects/",
		objects: make(map[string]object),
	}
}

func (s *objectStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty: %w", core.ErrValidation)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = object{contentType: contentType, data: buf}
	s.mu.Unlock()
	return nil
}

func (s *objectStore) PublicURL(key string) string {
	return s.baseURL + key
}

func (s *objectStore) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, s.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, s.baseURL)
	return key, key != ""
}

func (s *objectStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

func (s *objectStore) Open(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return obj.data, obj.contentType, nil
}

// Len reports how many objects are stored.
func (s *objectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
