// Package api exposes the publish gateway over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/gateway"
)

// Options configures the router
type Options struct {
	Token   string       // Shared API token, empty disables auth
	Metrics http.Handler // Served at /metrics when set
}

// NewRouter builds the HTTP routes over svc
func NewRouter(svc *gateway.Service, opts Options) http.Handler {
	h := &Handlers{svc: svc}
	r := chi.NewRouter()

	r.Get("/healthcheck", h.healthcheck)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(opts.Token))

		r.Get("/task/{taskID}", h.getTask)

		r.Route("/{env}", func(r chi.Router) {
			r.Use(requireEnvironment)

			r.Post("/publish", h.createPublish)
			r.Get("/publish/{publishID}", h.getPublish)
			r.Put("/publish/{publishID}", h.updateItems)
			r.Post("/publish/{publishID}/commit", h.commit)

			r.Post("/deploy-config", h.deployConfig)
			r.Get("/config", h.getConfig)
		})
	})

	if opts.Token == "" {
		log.Warn().Msg("API token not configured, requests are not authenticated")
	}

	return r
}
