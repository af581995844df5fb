// Package server exposes the queue and discovery operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/discovery"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/normalize"
	"github.com/sells-group/speedrun-cli/internal/queue"
	"github.com/sells-group/speedrun-cli/internal/ranking"
)

// Queues serves and rebuilds ranked queues.
type Queues interface {
	Page(ctx context.Context, workspaceID string, offset, limit int) (*queue.Page, error)
	Rebuild(ctx context.Context, workspaceID string) (*model.RankedQueue, error)
}

// Discoverer runs buyer-group discovery for one company.
type Discoverer interface {
	Run(ctx context.Context, req discovery.Request) (*model.BuyerGroup, []normalize.Skipped, error)
}

// BuyerGroups reads persisted buyer groups.
type BuyerGroups interface {
	GetBuyerGroup(ctx context.Context, companyID string) (*model.BuyerGroup, error)
}

// Server holds the HTTP dependencies.
type Server struct {
	queues      Queues
	discoverer  Discoverer
	groups      BuyerGroups
	corsOrigins []string
	validate    *validator.Validate
}

// New creates a Server. A nil discoverer disables the discover endpoint.
func New(queues Queues, discoverer Discoverer, groups BuyerGroups, corsOrigins []string) *Server {
	return &Server{
		queues:      queues,
		discoverer:  discoverer,
		groups:      groups,
		corsOrigins: corsOrigins,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workspaces/{ws}/queue", s.getQueue)
		r.Post("/workspaces/{ws}/queue/rebuild", s.rebuildQueue)
		r.Post("/companies/{id}/discover", s.discover)
		r.Get("/companies/{id}/buyer-group", s.getBuyerGroup)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pageQuery struct {
	Offset int `validate:"gte=0"`
	Limit  int `validate:"gte=0"`
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")

	var q pageQuery
	var err error
	if q.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if err := s.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "offset and limit must be non-negative")
		return
	}

	page, err := s.queues.Page(r.Context(), ws, q.Offset, q.Limit)
	if err != nil {
		zap.L().Error("server: queue page", zap.String("workspace_id", ws), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type rebuildResponse struct {
	WorkspaceID string    `json:"workspace_id"`
	QueueID     string    `json:"queue_id"`
	Generation  int64     `json:"generation"`
	Entries     int       `json:"entries"`
	Eligible    int       `json:"eligible"`
	BuiltAt     time.Time `json:"built_at"`
}

func (s *Server) rebuildQueue(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")

	q, err := s.queues.Rebuild(r.Context(), ws)
	switch {
	case errors.Is(err, queue.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded by a newer rebuild")
		return
	case errors.Is(err, ranking.ErrInconsistentSnapshot):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{
		WorkspaceID: q.WorkspaceID,
		QueueID:     q.ID,
		Generation:  q.Generation,
		Entries:     len(q.Entries),
		Eligible:    q.Eligible,
		BuiltAt:     q.BuiltAt,
	})
}

type discoverRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	Employees    *int   `json:"employees" validate:"omitempty,gte=0"`
	FlaggedLarge bool   `json:"flagged_large"`
}

type discoverResponse struct {
	Group   *model.BuyerGroup   `json:"buyer_group"`
	Skipped []normalize.Skipped `json:"skipped"`
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	if s.discoverer == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery is not configured")
		return
	}
	id := chi.URLParam(r, "id")

	var body discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "employees must be non-negative")
		return
	}

	group, skipped, err := s.discoverer.Run(r.Context(), discovery.Request{
		CompanyID:    id,
		WorkspaceID:  body.WorkspaceID,
		Employees:    body.Employees,
		FlaggedLarge: body.FlaggedLarge,
	})
	if errors.Is(err, discovery.ErrProviderUnavailable) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusServiceUnavailable, "enrichment provider unavailable")
		return
	}
	if err != nil {
		zap.L().Error("server: discover", zap.String("company_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "discovery failed")
		return
	}
	if skipped == nil {
		skipped = []normalize.Skipped{}
	}
	writeJSON(w, http.StatusOK, discoverResponse{Group: group, Skipped: skipped})
}

func (s *Server) getBuyerGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := s.groups.GetBuyerGroup(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get buyer group", zap.String("company_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load buyer group")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "buyer group not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
