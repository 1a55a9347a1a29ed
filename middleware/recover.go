package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Recover turns a panic in a handler into a 500 response that offers the
// client a way out: clearing its session and reloading.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			entry := logrus.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"panic":  rec,
			})
			if claims, ok := Claims(r.Context()); ok {
				entry = entry.WithField("user_id", claims.Subject)
			}
			entry.Errorf("Recovered from panic\n%s", debug.Stack())

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{
				"error":  "Something went wrong. Clear local state and reload to continue.",
				"action": "reset",
			})
		}()
		next.ServeHTTP(w, r)
	})
}
