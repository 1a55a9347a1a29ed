package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/microbiomeViz/Picture-library/catalog"
	"github.com/microbiomeViz/Picture-library/config"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/generate"
	"github.com/microbiomeViz/Picture-library/handlers/auth"
	"github.com/microbiomeViz/Picture-library/handlers/websocket"
	"github.com/microbiomeViz/Picture-library/ingest"
	"github.com/microbiomeViz/Picture-library/projects"
	"github.com/microbiomeViz/Picture-library/stores/memory"
)

func newTestApp(t *testing.T) (*app, string) {
	t.Helper()
	store := memory.NewStore()
	objectStore := memory.NewObjectStore("http://localhost:3002")
	authn := auth.NewWithSecret("s3cret")
	pipeline := ingest.NewPipeline(nil, config.DefaultDragMarkerKey)
	bridge := websocket.NewBridge(authn.Subject)
	t.Cleanup(bridge.Close)

	a := &app{
		authn:     authn,
		sessions:  catalog.NewSessions(store, objectStore, config.DefaultCategory),
		projects:  projects.NewStore(store),
		pipeline:  pipeline,
		generator: generate.NewGenerator(config.GeminiConfig{}, nil, pipeline),
		bridge:    bridge,
		objects:   objectStore,
	}
	token, err := authn.IssueToken(&core.User{Subject: "U"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return a, token
}

func TestRoutes(t *testing.T) {
	a, token := newTestApp(t)
	r := setupRouter(a)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		auth   bool
		want   int
	}{
		{"health", http.MethodGet, "/healthz", nil, false, http.StatusOK},
		{"catalog needs auth", http.MethodGet, "/api/v2/catalog", nil, false, http.StatusUnauthorized},
		{"catalog", http.MethodGet, "/api/v2/catalog", nil, true, http.StatusOK},
		{"projects", http.MethodGet, "/api/v2/projects", nil, true, http.StatusOK},
		{"styles", http.MethodGet, "/api/v2/generate/styles", nil, true, http.StatusOK},
		{"generate without key", http.MethodPost, "/api/v2/generate", map[string]string{"prompt": "cell", "style": "Flat"}, true, http.StatusBadRequest},
		{"load without canvas", http.MethodPost, "/api/v2/projects/missing/load", map[string]bool{"confirm": true}, true, http.StatusNotFound},
		{"drop passthrough", http.MethodPost, "/api/v2/canvas/drop", map[string]any{"data": map[string]string{}}, true, http.StatusOK},
		{"missing object", http.MethodGet, "/objects/nothing.png", nil, false, http.StatusNotFound},
		{"login unconfigured", http.MethodGet, "/auth/login", nil, false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if tt.body != nil {
				_ = json.NewEncoder(&buf).Encode(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, &buf).WithContext(context.Background())
			req.Header.Set("Content-Type", "application/json")
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status mismatch: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGenerateFailsWithoutBrowser(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"<svg></svg>"}]}}]}`))
	}))
	defer upstream.Close()

	a, token := newTestApp(t)
	a.generator = generate.NewGenerator(config.GeminiConfig{APIKey: "k", BaseURL: upstream.URL, Model: "m"}, upstream.Client(), a.pipeline)
	r := setupRouter(a)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/generate", bytes.NewBufferString(`{"prompt":"cell","style":"Flat"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status mismatch: got %d, want %d", w.Code, http.StatusBadGateway)
	}
}
