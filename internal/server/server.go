// Package server exposes the agent controls, the product read API and the
// live event stream over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/TrendDrop/internal/agent"
	"github.com/TobiSchelling/TrendDrop/internal/broadcast"
	"github.com/TobiSchelling/TrendDrop/internal/database"
)

var (
	md = goldmark.New()
	// Descriptions can come from a language model; rendered HTML is sanitized.
	policy = bluemonday.UGCPolicy()
)

// Controller is the agent surface the HTTP layer drives. *agent.Orchestrator satisfies it.
type Controller interface {
	Start()
	Stop()
	Trigger() error
	Running() bool
	Status() agent.Status
}

// Store is the read side of the persistence gateway. *database.DB satisfies it.
type Store interface {
	ListProductsPage(ctx context.Context, f database.ProductFilter) (*database.ProductPage, error)
	GetProduct(ctx context.Context, id int64) (*database.Product, error)
	GetTrendPoints(ctx context.Context, productID int64) ([]database.TrendPoint, error)
	GetRegions(ctx context.Context, productID int64) ([]database.Region, error)
	GetVideos(ctx context.Context, productID int64) ([]database.Video, error)
	Categories(ctx context.Context) ([]string, error)
	DashboardSummary(ctx context.Context, now time.Time) (*database.DashboardSummary, error)
}

// Server is the HTTP server for the agent and its products.
type Server struct {
	store  Store
	agent  Controller
	hub    *broadcast.Hub
	logger *slog.Logger
	router chi.Router
	now    func() time.Time
}

// New creates a new Server.
func New(store Store, ctl Controller, hub *broadcast.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		agent:  ctl,
		hub:    hub,
		logger: logger,
		router: chi.NewRouter(),
		now:    time.Now,
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/agent", func(r chi.Router) {
			r.Post("/start", s.handleAgentStart)
			r.Post("/stop", s.handleAgentStop)
			r.Post("/trigger", s.handleAgentTrigger)
			r.Get("/status", s.handleAgentStatus)
		})
		r.Get("/products", s.handleProducts)
		r.Get("/products/{id}", s.handleProduct)
		r.Get("/categories", s.handleCategories)
		r.Get("/dashboard-summary", s.handleDashboardSummary)
		r.Get("/events", s.handleEvents)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.agent.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"agent":     st.Phase,
		"clients":   s.hub.ClientCount(),
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	msg := "Agent started"
	if s.agent.Running() {
		msg = "Agent already running"
	} else {
		s.agent.Start()
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": msg, "status": s.agent.Status()})
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	msg := "Agent stopped"
	if !s.agent.Running() {
		msg = "Agent is not running"
	} else {
		s.agent.Stop()
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": msg, "status": s.agent.Status()})
}

func (s *Server) handleAgentTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Trigger(); err != nil {
		if errors.Is(err, agent.ErrNotRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"message": "Cycle triggered", "status": s.agent.Status()})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.agent.Status())
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.ProductFilter{
		Category:  q.Get("category"),
		Region:    q.Get("region"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	var err error
	if f.Page, err = intParam(q.Get("page"), 1); err != nil {
		respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if f.Limit, err = intParam(q.Get("limit"), 10); err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if f.MinScore, err = intParam(q.Get("trend_score"), 0); err != nil {
		respondError(w, http.StatusBadRequest, "invalid trend_score")
		return
	}

	page, err := s.store.ListProductsPage(r.Context(), f)
	if err != nil {
		s.internalError(w, "listing products", err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// productDetail is a product with its child data and rendered description.
type productDetail struct {
	database.Product
	DescriptionHTML string                `json:"description_html"`
	Trends          []database.TrendPoint `json:"trends"`
	Regions         []database.Region     `json:"regions"`
	Videos          []database.Video      `json:"videos"`
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	ctx := r.Context()

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		s.internalError(w, "getting product", err)
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}

	d := productDetail{Product: *p, DescriptionHTML: renderMarkdown(p.Description)}
	if d.Trends, err = s.store.GetTrendPoints(ctx, id); err != nil {
		s.internalError(w, "getting trends", err)
		return
	}
	if d.Regions, err = s.store.GetRegions(ctx, id); err != nil {
		s.internalError(w, "getting regions", err)
		return
	}
	if d.Videos, err = s.store.GetVideos(ctx, id); err != nil {
		s.internalError(w, "getting videos", err)
		return
	}
	if d.Trends == nil {
		d.Trends = []database.TrendPoint{}
	}
	if d.Regions == nil {
		d.Regions = []database.Region{}
	}
	if d.Videos == nil {
		d.Videos = []database.Video{}
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.Categories(r.Context())
	if err != nil {
		s.internalError(w, "listing categories", err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	respondJSON(w, http.StatusOK, cats)
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.DashboardSummary(r.Context(), s.now())
	if err != nil {
		s.internalError(w, "building dashboard summary", err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeSSE(w, r, func() any { return s.agent.Status() })
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, "error", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return string(policy.SanitizeBytes(buf.Bytes()))
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	// Request contexts derive from base so open event streams end on shutdown.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down server")
	cancelBase()
	return srv.Shutdown(shutdownCtx)
}
