// Package server exposes the engine over HTTP.
//
// The engine stays deterministic; everything nondeterministic (request ids,
// wall time for metrics) lives here at the collaborator boundary.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roach88/stepflow/internal/cache"
	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/engine"
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/store"
	"github.com/roach88/stepflow/internal/trace"
)

// Server wires the engine to its collaborators: the SQLite trace store and
// the idempotency cache, both optional.
type Server struct {
	engine  *engine.Engine
	store   *store.Store
	cache   cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables trace persistence.
func WithStore(s *store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithCache enables the idempotency cache with the given TTL.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(srv *Server) {
		srv.cache = c
		srv.ttl = ttl
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// New builds the server and its routes.
func New(eng *engine.Engine, opts ...Option) *Server {
	srv := &Server{
		engine:  eng,
		logger:  slog.New(slog.DiscardHandler),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", srv.handleHealth)
	router.POST("/v1/execute", srv.handleExecute)
	router.GET("/v1/replay/:request_id", srv.handleReplay)
	router.GET("/metrics", gin.WrapH(srv.metrics.Handler()))

	srv.router = router
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("serving", "addr", addr)
	return s.router.Run(addr)
}

// ExecuteRequest is the POST /v1/execute body.
type ExecuteRequest struct {
	ProblemSpec map[string]any `json:"problem_spec" binding:"required"`
	TraceID     string         `json:"trace_id"`
	Now         string         `json:"now"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleExecute(c *gin.Context) {
	requestID := uuid.NewString()
	started := time.Now()

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.Executions.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, errorBody(fault.New(fault.CodeSchemaInvalid, "invalid request body: %v", err)))
		return
	}

	cacheKey := "trace:" + req.TraceID
	if req.TraceID == "" {
		if id, ok := req.ProblemSpec["id"].(string); ok {
			cacheKey = "trace:" + id
		}
	}
	if s.cache != nil {
		cached, hit, err := s.cache.Get(c.Request.Context(), cacheKey)
		if err != nil {
			s.logger.Warn("cache get failed", "request_id", requestID, "error", err)
		} else if hit {
			s.metrics.CacheHits.Inc()
			c.Data(http.StatusOK, "application/json", cached)
			return
		} else {
			s.metrics.CacheMisses.Inc()
		}
	}

	result, err := s.engine.Execute(c.Request.Context(), engine.Request{
		ProblemSpec: req.ProblemSpec,
		TraceID:     req.TraceID,
		Now:         req.Now,
	})
	if err != nil {
		s.metrics.Executions.WithLabelValues("rejected").Inc()
		s.logger.Warn("execute rejected", "request_id", requestID, "error", err)
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}

	s.metrics.Executions.WithLabelValues(result.FinalState.Status).Inc()
	s.metrics.Duration.Observe(time.Since(started).Seconds())
	s.metrics.TraceRecords.Add(float64(len(result.Records)))

	if s.store != nil {
		requestKey, _ := req.ProblemSpec["id"].(string)
		if _, err := s.store.StoreTrace(c.Request.Context(), result.Records, requestKey,
			req.ProblemSpec, result.FinalState.CanonicalValue()); err != nil {
			s.logger.Error("trace store failed", "request_id", requestID, "error", err)
			c.JSON(http.StatusInternalServerError, errorBody(err))
			return
		}
	}

	body, err := responseBody(result.TraceID, result.EngineVersion, result.Records, result.FinalState.CanonicalValue())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}

	if s.cache != nil {
		if err := s.cache.Put(c.Request.Context(), cacheKey, body, s.ttl); err != nil {
			s.logger.Warn("cache put failed", "request_id", requestID, "error", err)
		}
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleReplay(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusBadRequest, errorBody(errors.New("persistence is not configured")))
		return
	}
	run, err := s.store.LoadRunByRequestID(c.Request.Context(), c.Param("request_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}

	result, identical, err := s.engine.Replay(c.Request.Context(), engine.Request{
		ProblemSpec: run.ProblemSpec,
		TraceID:     run.Metadata.TraceID,
		Now:         run.Metadata.CreatedAt,
	}, ndjson(run.Records))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	s.metrics.ReplayMatches.WithLabelValues(boolLabel(identical)).Inc()
	if !identical {
		c.JSON(http.StatusConflict, errorBody(fault.New(fault.CodeTraceChainBroken,
			"replay of %s did not reproduce the stored trace bytes", run.Metadata.TraceID)))
		return
	}

	body, err := responseBody(result.TraceID, result.EngineVersion, result.Records, result.FinalState.CanonicalValue())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// responseBody serializes the execute response canonically so cached
// responses are byte-identical to the original.
func responseBody(traceID, engineVersion string, records []trace.Record, finalState any) ([]byte, error) {
	traceList := make([]any, len(records))
	for i, r := range records {
		traceList[i] = map[string]any(r)
	}
	body := map[string]any{
		"trace_id":       traceID,
		"engine_version": engineVersion,
		"trace":          traceList,
		"final_state":    finalState,
	}
	return canon.Marshal(body)
}

func ndjson(records []trace.Record) []byte {
	var out []byte
	for _, r := range records {
		line, err := canon.Marshal(map[string]any(r))
		if err != nil {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

func errorBody(err error) gin.H {
	body := gin.H{"message": err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body["code"] = string(fe.Code)
		if len(fe.Violations) > 0 {
			body["violations"] = fe.Violations
		}
	}
	return gin.H{"error": body}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
