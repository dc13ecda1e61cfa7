// Package navigation decides whether a page may be shown for the current session.
package navigation

import (
	"net/url"

	"github.com/jrsteele09/go-session-client/sessions"
)

// RedirectQueryKey carries the page the user was headed to through the login page
const RedirectQueryKey = "redirect"

// Decision is the outcome of Guard. A zero Redirect means proceed.
type Decision struct {
	Redirect string
	Query    url.Values
}

func (d Decision) Proceed() bool {
	return d.Redirect == ""
}

// Guard applies the access rules to target, first match wins:
// protected page while signed out goes to login with a redirect back,
// missing role goes to the landing page,
// login or register while signed in goes to the landing page.
func Guard(target Route, sess sessions.View) Decision {
	authenticated := sess.IsAuthenticated()

	if target.RequiresAuth && !authenticated {
		fullPath := target.FullPath
		if fullPath == "" {
			fullPath = target.Path
		}
		return Decision{Redirect: RouteLogin, Query: url.Values{RedirectQueryKey: {fullPath}}}
	}
	if target.RequiredRole != "" && !sess.HasRole(target.RequiredRole) {
		return Decision{Redirect: DefaultLanding}
	}
	if (target.Name == RouteLogin || target.Name == RouteRegister) && authenticated {
		return Decision{Redirect: DefaultLanding}
	}
	return Decision{}
}

// Location renders the decision as a URL using the paths in t
func (t *Table) Location(d Decision) string {
	r, ok := t.Lookup(d.Redirect)
	if !ok {
		return PathHome
	}
	if len(d.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + d.Query.Encode()
}
