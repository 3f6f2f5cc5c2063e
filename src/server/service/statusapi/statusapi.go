// SPDX-License-Identifier: MIT
// statusapi exposes a loopback-only HTTP surface for Prometheus scraping
// and a liveness probe. It never touches onion traffic — the wildcard
// HTTP ingress is handled entirely by the pipeline package over raw
// sockets, not by this router.
package statusapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apimgr/onionbridge/src/server/service/coordinator"
)

// NewRouter builds the status HTTP handler for coord.
func NewRouter(coord *coordinator.Coordinator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		halted := "false"
		if coord.Halted() {
			halted = "true"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"halted":` + halted + `}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
