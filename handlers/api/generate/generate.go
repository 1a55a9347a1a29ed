package generate

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/core"
	gen "github.com/microbiomeViz/Picture-library/generate"
	"github.com/microbiomeViz/Picture-library/handlers/api/respond"
)

type (
	CanvasProvider interface {
		Canvas(user string) core.Canvas
	}

	Request struct {
		Prompt string `json:"prompt"`
		Style  string `json:"style"`
	}

	Response struct {
		SVG string `json:"svg"`
	}
)

// HandleGenerate creates AI artwork and inserts it into the caller's canvas.
// Every failure after validation is answered with one generic message.
func HandleGenerate(generator *gen.Generator, canvases CanvasProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}
		style, err := gen.ParseStyle(req.Style)
		if err != nil {
			respond.Error(w, r, err, "Unknown style")
			return
		}

		svg, err := generator.Generate(r.Context(), canvases.Canvas(user), req.Prompt, style)
		if err != nil {
			respond.Error(w, r, err, "AI generation failed, please try again")
			return
		}
		render.JSON(w, r, Response{SVG: svg})
	}
}

// HandleStyles lists the accepted styles and whether generation is enabled.
func HandleStyles(generator *gen.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"enabled": generator.Enabled(),
			"styles":  gen.Styles(),
		})
	}
}
