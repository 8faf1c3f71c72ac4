package wsrouter

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/wimz-robotics/cloud-relay/xhttp"
)

// handleHealth answers liveness checks unconditionally: the process
// responding at all means its HTTP listener is up. Readiness (whether it
// should receive traffic) is a deploy-time concern this relay leaves to the
// orchestrator's connection-draining behavior, not a separate endpoint.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleStats reports the connection manager's point-in-time counts, the
// collaborator surface spec.md §6 names alongside the WebSocket endpoints.
func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := rt.Manager.Stats()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(stats); err != nil {
		xhttp.WriteErrorf(w, http.StatusInternalServerError, "failed to encode stats: %s", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}
