// Package respond holds the JSON error conventions shared by API handlers.
package respond

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/middleware"
	"github.com/sirupsen/logrus"
)

// Status maps a service error to an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrOwnershipDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateCategory):
		return http.StatusConflict
	case errors.Is(err, core.ErrGenerationFailed),
		errors.Is(err, core.ErrPersistence),
		errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes {"error": message}. Client errors also get err's text under
// "detail"; server-side failures do not.
func Error(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := Status(err)
	entry := logrus.WithFields(logrus.Fields{
		"error":  err,
		"path":   r.URL.Path,
		"status": status,
	})
	if claims, ok := middleware.Claims(r.Context()); ok {
		entry = entry.WithField("user_id", claims.Subject)
	}

	body := map[string]string{"error": message}
	if status < http.StatusInternalServerError {
		entry.Warn(message)
		body["detail"] = err.Error()
	} else {
		entry.Error(message)
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

// Subject returns the signed-in user, answering 401 when there is none.
func Subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.Claims(r.Context())
	if !ok || claims.Subject == "" {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "User claims not found"})
		return "", false
	}
	return claims.Subject, true
}

// BadRequest answers 400 with message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": message})
}
