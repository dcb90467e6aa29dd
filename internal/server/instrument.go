package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/towns-protocol/rpc-gateway/internal/metrics"
)

// statusRecorder captures the status code an inner handler wrote, since
// http.ResponseWriter has no getter for it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrumentHandler wraps an http.Handler to record the http_response_latency_seconds
// histogram, labeled by the HTTP status code the handler wrote.
func instrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		metrics.ObserveHTTPResponse(strconv.Itoa(recorder.status), time.Since(start))
	})
}
