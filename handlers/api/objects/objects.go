package objects

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/sirupsen/logrus"
)

// HandleGet serves stored objects for backends without a public endpoint of
// their own.
func HandleGet(server core.ObjectServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if key == "" {
			http.NotFound(w, r)
			return
		}

		data, contentType, err := server.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) {
				http.NotFound(w, r)
				return
			}
			logrus.WithError(err).WithField("key", key).Error("Failed to open object")
			http.Error(w, "Failed to read object", http.StatusBadGateway)
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		// Uploaded SVG must not run script against this origin.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "sandbox; default-src 'none'; style-src 'unsafe-inline'; img-src data:")
		_, _ = w.Write(data)
	}
}
