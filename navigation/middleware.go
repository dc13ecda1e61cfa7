package navigation

import (
	"net/http"

	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/rs/zerolog"
)

// Chain wraps h with mw, the first middleware being the outermost
func Chain(h http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chained := h
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// Middleware guards page handlers, redirecting with 303 See Other when the guard says so
func Middleware(table *Table, sess sessions.View, logger zerolog.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			target := table.Resolve(r.URL.RequestURI())
			decision := Guard(target, sess)
			if !decision.Proceed() {
				location := table.Location(decision)
				logger.Debug().Str("route", target.Name).Str("location", location).Msg("navigation redirected")
				http.Redirect(w, r, location, http.StatusSeeOther)
				return
			}
			next(w, r)
		}
	}
}
