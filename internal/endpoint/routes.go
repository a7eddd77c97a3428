package endpoint

import (
	"net/http"

	"github.com/ternarybob/ctxpipe/internal/broker"
)

// routes builds the endpoint's flat route table, the same style the
// teacher's server/routes.go uses: one ServeMux, one HandleFunc per
// surface, subpath dispatch handled inside the handler itself.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/submit", s.handleSubmit)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/actions/", s.handleActions)
	mux.HandleFunc("/apply_scenarios", s.handleApplyScenarios)
	mux.HandleFunc("/reload", s.handleReload)
	mux.Handle("/metrics", s.handleMetrics())
	mux.Handle("/ws", broker.NewWSHandler(s.bus, s.logger))

	return mux
}
