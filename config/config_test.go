package config

import (
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg := FromLookup(lookupFrom(nil))

	if cfg.StorageType != "memory" {
		t.Errorf("StorageType mismatch: got %q, want %q", cfg.StorageType, "memory")
	}
	if cfg.ObjectStorageType != "memory" {
		t.Errorf("ObjectStorageType mismatch: got %q, want %q", cfg.ObjectStorageType, "memory")
	}
	if cfg.DragMarkerKey != DefaultDragMarkerKey {
		t.Errorf("DragMarkerKey mismatch: got %q, want %q", cfg.DragMarkerKey, DefaultDragMarkerKey)
	}
	if cfg.Gemini.Model != DefaultGeminiModel {
		t.Errorf("Gemini model mismatch: got %q, want %q", cfg.Gemini.Model, DefaultGeminiModel)
	}
	if cfg.Gemini.Timeout != DefaultGeminiTimeout {
		t.Errorf("Gemini timeout mismatch: got %v, want %v", cfg.Gemini.Timeout, DefaultGeminiTimeout)
	}
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg := FromLookup(lookupFrom(map[string]string{
		"STORAGE_TYPE":     "postgres",
		"PUBLIC_BASE_URL":  "https://pics.example.org/",
		"MINIO_USE_SSL":    "true",
		"GEMINI_TIMEOUT":   "30s",
		"DEFAULT_CATEGORY": "Instruments",
		"GEMINI_API_KEY":   "  key  ",
	}))

	if cfg.StorageType != "postgres" {
		t.Errorf("StorageType mismatch: got %q", cfg.StorageType)
	}
	if cfg.PublicBaseURL != "https://pics.example.org" {
		t.Errorf("PublicBaseURL should be trimmed: got %q", cfg.PublicBaseURL)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL should be true")
	}
	if cfg.Gemini.Timeout != 30*time.Second {
		t.Errorf("Gemini timeout mismatch: got %v", cfg.Gemini.Timeout)
	}
	if cfg.DefaultCategory != "Instruments" {
		t.Errorf("DefaultCategory mismatch: got %q", cfg.DefaultCategory)
	}
	if cfg.Gemini.APIKey != "key" {
		t.Errorf("API key should be trimmed: got %q", cfg.Gemini.APIKey)
	}
}

func TestFromLookup_InvalidValuesFallBack(t *testing.T) {
	cfg := FromLookup(lookupFrom(map[string]string{
		"MINIO_USE_SSL":  "sometimes",
		"GEMINI_TIMEOUT": "soon",
	}))

	if cfg.MinioUseSSL {
		t.Error("MinioUseSSL should fall back to false")
	}
	if cfg.Gemini.Timeout != DefaultGeminiTimeout {
		t.Errorf("Gemini timeout should fall back: got %v", cfg.Gemini.Timeout)
	}
}
