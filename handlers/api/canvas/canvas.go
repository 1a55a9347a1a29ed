package canvas

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/handlers/api/respond"
	"github.com/microbiomeViz/Picture-library/ingest"
)

type (
	CanvasProvider interface {
		Canvas(user string) core.Canvas
	}

	DropResponse struct {
		State ingest.State `json:"state"`
	}
)

// HandleDrop forwards a browser drop to the ingestion pipeline. Ingestion
// failures are not errors: the response reports the final state, and a
// passthrough tells the browser to handle the drop natively.
func HandleDrop(pipeline *ingest.Pipeline, canvases CanvasProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var drop ingest.Drop
		if err := render.DecodeJSON(r.Body, &drop); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		state := pipeline.HandleDrop(r.Context(), canvases.Canvas(user), drop)
		render.JSON(w, r, DropResponse{State: state})
	}
}
