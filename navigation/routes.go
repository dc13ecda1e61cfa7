package navigation

import (
	"strings"

	"github.com/jrsteele09/go-session-client/users"
)

// Route names
const (
	RouteHome              = "home"
	RouteAIRecommendations = "aiRecommendations"
	RouteAllMovies         = "allMovies"
	RouteMovieDetail       = "movieDetail"
	RouteAllSeries         = "allSeries"
	RouteSeriesDetail      = "seriesDetail"
	RouteProfile           = "profile"
	RouteWatchlist         = "watchlist"
	RouteLogin             = "login"
	RouteRegister          = "register"
	RouteAdmin             = "admin"
	RouteEditor            = "editor"
	RouteNotFound          = "notFound"
)

// Route path patterns. {name} matches a single segment.
const (
	PathHome              = "/"
	PathAIRecommendations = "/ai-recommendations"
	PathAllMovies         = "/movies"
	PathMovieDetail       = "/movies/{id}"
	PathAllSeries         = "/series"
	PathSeriesDetail      = "/series/{id}"
	PathProfile           = "/profile"
	PathWatchlist         = "/watchlist"
	PathLogin             = "/login"
	PathRegister          = "/register"
	PathAdmin             = "/admin"
	PathEditor            = "/editor"
)

// DefaultLanding is where the guard sends users who may not stay
const DefaultLanding = RouteHome

// Route is a navigable page and its access requirements.
// FullPath is only set on routes produced by Resolve.
type Route struct {
	Name         string
	Path         string
	RequiresAuth bool
	RequiredRole users.RoleType
	FullPath     string
}

// Table is an ordered set of routes; the first pattern that matches wins
type Table struct {
	routes []Route
	byName map[string]Route
}

func NewTable(routes ...Route) *Table {
	t := &Table{byName: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.routes = append(t.routes, r)
		t.byName[r.Name] = r
	}
	return t
}

// Routes is the application's route table
func Routes() *Table {
	return NewTable(
		Route{Name: RouteHome, Path: PathHome},
		Route{Name: RouteAIRecommendations, Path: PathAIRecommendations},
		Route{Name: RouteAllMovies, Path: PathAllMovies},
		Route{Name: RouteMovieDetail, Path: PathMovieDetail},
		Route{Name: RouteAllSeries, Path: PathAllSeries},
		Route{Name: RouteSeriesDetail, Path: PathSeriesDetail},
		Route{Name: RouteProfile, Path: PathProfile, RequiresAuth: true},
		Route{Name: RouteWatchlist, Path: PathWatchlist, RequiresAuth: true},
		Route{Name: RouteLogin, Path: PathLogin},
		Route{Name: RouteRegister, Path: PathRegister},
		Route{Name: RouteAdmin, Path: PathAdmin, RequiresAuth: true, RequiredRole: users.RoleAdmin},
		Route{Name: RouteEditor, Path: PathEditor, RequiresAuth: true, RequiredRole: users.RoleEditor},
	)
}

// All returns the routes in match order
func (t *Table) All() []Route {
	return append([]Route(nil), t.routes...)
}

func (t *Table) Lookup(name string) (Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Resolve finds the route for fullPath (path plus optional query). Unknown paths
// resolve to the notFound route, which has no requirements.
func (t *Table) Resolve(fullPath string) Route {
	path := fullPath
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}

	for _, r := range t.routes {
		if matchPattern(r.Path, path) {
			r.FullPath = fullPath
			return r
		}
	}
	return Route{Name: RouteNotFound, Path: path, FullPath: fullPath}
}

func matchPattern(pattern, path string) bool {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, p := range patternParts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if p != pathParts[i] {
			return false
		}
	}
	return true
}
