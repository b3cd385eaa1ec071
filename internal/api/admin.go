package api

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/skylens-data/flightpath.report/internal/httputil"
)

// AttachAdminRoutes registers the debug endpoints on mux under /debug/.
// tsweb restricts access to loopback and tailnet callers.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("pools", "connection pool stats per session", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.cache.Snapshot())
	})

	debug.HandleFunc("sessions", "registered session count", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]int{"sessions": s.registry.Len()})
	})

	debug.HandleFunc("last-analysis", "summary of the most recent site analysis", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if last == nil {
			httputil.WriteJSONOK(w, map[string]string{"status": "none"})
			return
		}
		httputil.WriteJSONOK(w, last)
	})
}
