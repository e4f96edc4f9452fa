// Package api exposes the rule engine, triage runs, lists and run history
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracyhatemice/mailrulez/internal/config"
	"github.com/tracyhatemice/mailrulez/internal/history"
	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/rules"
	"github.com/tracyhatemice/mailrulez/internal/triage"
)

// DialerFunc builds the mailbox dialer for a configured account.
type DialerFunc func(acct *config.Account) mailbox.Dialer

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg      *config.Config
	engine   *rules.Engine
	pipeline *triage.Pipeline
	lists    *lists.Store
	history  *history.Store
	dial     DialerFunc
	logger   *slog.Logger
}

// New creates a Server. hist may be nil, in which case runs are not recorded
// and the history routes report 503.
func New(cfg *config.Config, engine *rules.Engine, pipeline *triage.Pipeline, ls *lists.Store, hist *history.Store, dial DialerFunc, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		pipeline: pipeline,
		lists:    ls,
		history:  hist,
		dial:     dial,
		logger:   logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/", s.createRule)
			r.Get("/{id}", s.getRule)
			r.Put("/{id}", s.updateRule)
			r.Delete("/{id}", s.deleteRule)
		})

		r.Get("/templates", s.listTemplates)
		r.Post("/templates/{name}", s.createFromTemplate)

		r.Post("/classify", s.classify)

		r.Route("/accounts/{email}", func(r chi.Router) {
			r.Get("/rules", s.accountRules)
			r.Post("/apply", s.apply)
			r.Post("/runs/{mode}", s.run)
		})

		r.Get("/lists", s.listStats)
		r.Get("/lists/{name}", s.getList)
		r.Post("/lists/{name}", s.appendList)

		r.Get("/history", s.recentRuns)
		r.Get("/history/totals", s.totals)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var connErr *mailbox.ConnectionError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, rules.ErrUnknownTemplate):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, rules.ErrUnknownTag),
		errors.Is(err, lists.ErrInvalidName),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return http.StatusBadRequest
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
