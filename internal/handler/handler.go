// Package handler serves the JSON API: report snapshots, dispatch runs, score
// questions and marks extraction from uploaded question papers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"

	"github.com/pavelanni/remedial/internal/dispatch"
	"github.com/pavelanni/remedial/internal/events"
	appI18n "github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/llm"
	"github.com/pavelanni/remedial/internal/marks"
	"github.com/pavelanni/remedial/internal/metrics"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/report"
	"github.com/pavelanni/remedial/internal/store"
)

// DefaultRunsLimit is the number of dispatch runs listed when no limit is given.
const DefaultRunsLimit = 20

// Config carries the optional collaborators and settings of the API.
type Config struct {
	Lang            string
	APIUser         string
	APIPasswordHash string
	CORSOrigins     []string

	// Channel enables POST /api/dispatch when set.
	Channel  dispatch.Channel
	Dispatch dispatch.Options
	Events   *events.Publisher

	Extractor marks.Extractor
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	reg       *registry.Registry
	llm       *llm.Client
	sanitizer *bluemonday.Policy
	config    Config
}

// New creates a new Handler. l may be nil, in which case only structured
// questions are answered.
func New(s *store.Store, reg *registry.Registry, l *llm.Client, cfg Config) (*Handler, error) {
	if s == nil || reg == nil {
		return nil, errors.New("handler: store and registry are required")
	}
	if cfg.Lang == "" {
		cfg.Lang = appI18n.DefaultLang
	}
	return &Handler{
		store:     s,
		reg:       reg,
		llm:       l,
		sanitizer: bluemonday.StrictPolicy(),
		config:    cfg,
	}, nil
}

// Router builds the full middleware stack and route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(h.config.Lang))
	r.Use(metricsMiddleware)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		if h.config.APIUser != "" {
			api.Use(h.requireAuth)
		}
		h.Routes(api)
	})
	return r
}

// Routes registers the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/documents", h.handleUploadDocument)
	r.Post("/query", h.handleQuery)
	r.Get("/report", h.handleReport)
	r.Post("/dispatch", h.handleDispatch)
	r.Get("/runs", h.handleListRuns)
	r.Get("/runs/{runID}", h.handleGetRun)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Result  string   `json:"result"`
	Queries []string `json:"queries,omitempty"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	question := strings.TrimSpace(req.Query)
	if question == "" {
		writeError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}

	if intent, ok := llm.ParseIntent(question); ok {
		students, err := h.store.ListStudents(r.Context())
		if err != nil {
			slog.Error("failed to list students", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, queryResponse{Result: intent.Resolve(r.Context(), students)})
		return
	}

	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "score assistant is not configured")
		return
	}
	ans, err := h.llm.Ask(r.Context(), llm.Database{
		Querier: h.store,
		Dialect: string(h.store.Driver()),
		Schema:  store.SchemaDescription(h.reg),
		MaxRows: store.MaxQueryRows,
	}, question)
	if err != nil {
		slog.Error("score question failed", "error", err)
		writeError(w, http.StatusBadGateway, "query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Result:  h.sanitizer.Sanitize(ans.Text),
		Queries: ans.Queries,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.store.LoadReport(r.Context(), h.reg)
	if err != nil {
		slog.Error("failed to load report", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	info, err := h.store.GetImportInfo(r.Context())
	if err != nil {
		slog.Error("failed to read import info", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report.Export(h.reg, rep, info.RosterPath, info.RegistryPath))
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if h.config.Channel == nil {
		writeError(w, http.StatusServiceUnavailable, "no delivery channel configured")
		return
	}
	rep, err := h.store.LoadReport(r.Context(), h.reg)
	if err != nil {
		slog.Error("failed to load report", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rep = report.Filter(rep, r.URL.Query()["only"])

	opts := h.config.Dispatch
	if opts.Lang == "" {
		opts.Lang = h.config.Lang
	}
	run, err := dispatch.New(h.config.Channel, h.reg, opts).Dispatch(r.Context(), rep)

	// Partial runs are recorded after the client disconnects.
	recordCtx := context.WithoutCancel(r.Context())
	if saveErr := h.store.SaveDispatchRun(recordCtx, run); saveErr != nil {
		slog.Error("failed to save dispatch run", "run_id", run.ID, "error", saveErr)
	}
	if h.config.Events.Enabled() {
		if pubErr := h.config.Events.PublishRun(recordCtx, run); pubErr != nil {
			slog.Warn("failed to publish dispatch events", "run_id", run.ID, "error", pubErr)
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dispatch interrupted: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.store.ListDispatchRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list dispatch runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []model.DispatchRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetDispatchRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		slog.Error("failed to get dispatch run", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests().WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPLatency().WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
