package snapshots

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/handlers/api/respond"
	"github.com/microbiomeViz/Picture-library/projects"
)

type (
	// CanvasProvider returns the live canvas of a user.
	CanvasProvider interface {
		Canvas(user string) core.Canvas
	}

	SaveRequest struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}

	LoadRequest struct {
		Confirm bool `json:"confirm"`
	}

	// Summary is a snapshot listing entry without its payload.
	Summary struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
	}
)

func summarize(p *core.ProjectSnapshot) Summary {
	return Summary{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
}

// HandleList lists the caller's snapshots, newest first.
func HandleList(store *projects.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		list, err := store.List(r.Context(), user)
		if err != nil {
			respond.Error(w, r, err, "Failed to list projects")
			return
		}

		out := make([]Summary, 0, len(list))
		for _, p := range list {
			out = append(out, summarize(p))
		}
		render.JSON(w, r, out)
	}
}

// HandleSave stores the document the browser sent as a new snapshot.
func HandleSave(store *projects.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req SaveRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		saved, err := store.Save(r.Context(), user, req.Name, req.Data)
		if err != nil {
			respond.Error(w, r, err, "Failed to save project")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, summarize(saved))
	}
}

// HandleLoad pushes a snapshot into the caller's canvas. The body must carry
// "confirm": true because the live document is replaced.
func HandleLoad(store *projects.Store, canvases CanvasProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req LoadRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		loaded, err := store.Open(r.Context(), canvases.Canvas(user), user, chi.URLParam(r, "id"), req.Confirm)
		if err != nil {
			respond.Error(w, r, err, "Failed to load project")
			return
		}
		render.JSON(w, r, summarize(loaded))
	}
}

// HandleGet returns a snapshot's raw document.
func HandleGet(store *projects.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		p, err := store.Get(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			respond.Error(w, r, err, "Project not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(p.Data)
	}
}

func HandleDelete(store *projects.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		if err := store.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
			respond.Error(w, r, err, "Failed to delete project")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
