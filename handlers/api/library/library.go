// Package library serves the asset catalog over HTTP.
package library

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/catalog"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/handlers/api/respond"
	"github.com/sirupsen/logrus"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 32 << 20

type (
	ViewResponse struct {
		catalog.View
		Category string       `json:"category"`
		Query    string       `json:"q"`
		Assets   []core.Asset `json:"assets"`
	}

	CategoryRequest struct {
		Label string `json:"label"`
	}

	RenameAssetRequest struct {
		Name string `json:"name"`
	}

	RenameCategoryResponse struct {
		Affected int64 `json:"affected"`
	}
)

func labelParam(r *http.Request) string {
	label := chi.URLParam(r, "label")
	if unescaped, err := url.PathUnescape(label); err == nil {
		return unescaped
	}
	return label
}

func view(rec *catalog.Reconciler, category, q string) ViewResponse {
	v := rec.View()
	if category == "" {
		category = v.Selected
	}
	return ViewResponse{View: v, Category: category, Query: q, Assets: rec.Filter(category, q)}
}

// HandleView returns the categories and the assets of one category, filtered
// by the q search term. The category defaults to the selected one.
func HandleView(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		rec := sessions.Get(r.Context(), user)
		render.JSON(w, r, view(rec, r.URL.Query().Get("category"), r.URL.Query().Get("q")))
	}
}

func HandleRefresh(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		rec := sessions.Get(r.Context(), user)
		rec.Refresh(r.Context())
		render.JSON(w, r, view(rec, "", ""))
	}
}

func HandleCreateCategory(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req CategoryRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		rec := sessions.Get(r.Context(), user)
		if err := rec.CreateCategory(req.Label); err != nil {
			respond.Error(w, r, err, "Failed to create category")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, rec.View())
	}
}

// HandleRenameCategory moves the caller's assets to a new label. A rename
// that matches none of the caller's assets answers 200 with affected 0.
func HandleRenameCategory(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req CategoryRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		n, err := sessions.Get(r.Context(), user).RenameCategory(r.Context(), labelParam(r), req.Label)
		if err != nil {
			respond.Error(w, r, err, "Failed to rename category")
			return
		}
		render.JSON(w, r, RenameCategoryResponse{Affected: n})
	}
}

func HandleSelectCategory(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		rec := sessions.Get(r.Context(), user)
		if err := rec.Select(labelParam(r)); err != nil {
			respond.Error(w, r, err, "Failed to select category")
			return
		}
		render.JSON(w, r, rec.View())
	}
}

// HandleUploadAsset accepts a multipart form with a "file" part and an
// optional "category" field.
func HandleUploadAsset(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "File too large"})
				return
			}
			respond.BadRequest(w, r, "Invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respond.BadRequest(w, r, "File is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			logrus.WithError(err).Error("Failed to read upload")
			respond.BadRequest(w, r, "Failed to read file")
			return
		}

		asset, err := sessions.Get(r.Context(), user).UploadAsset(r.Context(),
			catalog.Upload{Filename: header.Filename, Data: data}, r.FormValue("category"))
		if err != nil {
			respond.Error(w, r, err, "Failed to upload asset")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, asset)
	}
}

func HandleRenameAsset(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		var req RenameAssetRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.BadRequest(w, r, "Invalid request body")
			return
		}

		if err := sessions.Get(r.Context(), user).RenameAsset(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
			respond.Error(w, r, err, "Failed to rename asset")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleDeleteAsset(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		if err := sessions.Get(r.Context(), user).DeleteAsset(r.Context(), chi.URLParam(r, "id")); err != nil {
			respond.Error(w, r, err, "Failed to delete asset")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleResetSession drops the caller's cached catalog state.
func HandleResetSession(sessions *catalog.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := respond.Subject(w, r)
		if !ok {
			return
		}
		sessions.Reset(user)
		w.WriteHeader(http.StatusNoContent)
	}
}
