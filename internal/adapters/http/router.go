package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/ports"
)

// HTTPObserver counts served requests by route.
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int)
}

type Handler struct {
	service  *application.Service
	verifier ports.TokenVerifier
	observer HTTPObserver
	metrics  http.Handler
}

type Options struct {
	Verifier ports.TokenVerifier
	Observer HTTPObserver
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewHandler(service *application.Service, opts Options) *Handler {
	return &Handler{
		service:  service,
		verifier: opts.Verifier,
		observer: opts.Observer,
		metrics:  opts.Metrics,
	}
}

// NewRouter registers the pool routes. Reads are public; every state change
// needs a bearer token that resolves to the calling account.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware(handler.observer))

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.metrics)
	}

	r.Route("/v1/pool", func(r chi.Router) {
		r.Get("/", handler.getPool)
		r.Get("/members", handler.listMembers)
		r.Get("/members/{address}", handler.getMember)
		r.Get("/events", handler.listEvents)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/", handler.deploy)
			r.Post("/members", handler.join)
			r.Post("/bids", handler.bid)
			r.Post("/payments", handler.pay)
			r.Post("/winner", handler.selectWinner)
			r.Post("/penalties", handler.penalize)
			r.Post("/settlements", handler.settle)
			r.Post("/deposit-returns", handler.returnDeposits)
			r.Get("/audit", handler.audit)
		})
	})

	return r
}
