// Package api exposes the orchestration engine over HTTP: one route per
// named operation, JSON bodies, and an error payload carrying a single
// message string.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/engine"
)

// API wires the engine's named operations into HTTP handlers.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates an API over the given engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)

	r.Get("/healthz", a.health)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/events/create", a.createEvent)
		v1.Post("/events/update", a.updateEvent)
		v1.Post("/events/delete", a.deleteEvent)
		v1.Post("/events/bulk-delete", a.bulkDeleteEvents)

		v1.Get("/jobs/{jobID}", a.getJob)
		v1.Get("/workflows/{workflowID}", a.getWorkflow)

		v1.Get("/calendars", a.listCalendars)
		v1.Post("/sync/trigger", a.triggerSync)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) respondJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("response encoding failed", slog.String("error", err.Error()))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "response encoding failed"}`))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (a *API) respondError(w http.ResponseWriter, code int, message string) {
	a.respondJSON(w, code, errorResponse{Error: message})
}

// respondMapped translates the package sentinels into status codes:
// validation 400, not found 404, dependency unavailable 503, anything
// else 500.
func (a *API) respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pendulum.ErrValidation):
		a.respondError(w, http.StatusBadRequest, err.Error())
	case pendulum.IsNotFound(err):
		a.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pendulum.ErrDependencyUnavailable):
		a.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondReceipt acknowledges a mutation: 202 while the workflow is in
// flight, 200 for a duplicate that already carries the final payload.
func (a *API) respondReceipt(w http.ResponseWriter, receipt *engine.Receipt) {
	code := http.StatusAccepted
	if !receipt.Pending {
		code = http.StatusOK
	}

	a.respondJSON(w, code, receipt)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("handler panicked",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)

				a.respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
