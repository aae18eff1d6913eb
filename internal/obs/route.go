package obs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteUnmatched labels requests the router could not match, keeping metric cardinality bounded.
const RouteUnmatched = "unmatched"

// RouteLabel returns the chi pattern that served r, e.g. /api/v1/orders/{id}. It is only populated
// once the router has handled the request, so middleware must call it after next returns.
func RouteLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return RouteUnmatched
}
