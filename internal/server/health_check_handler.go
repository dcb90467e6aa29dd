package server

import "net/http"

// HealthCheckHandler answers every probe endpoint unconditionally: the
// gateway's liveness/readiness signal is the per-chain Health Tracker
// snapshot consumed internally by load balancing, not surfaced externally.
type HealthCheckHandler struct{}

func (h *HealthCheckHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
