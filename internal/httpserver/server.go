package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/utils"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// DefaultDeadNodesSince is the lookback used when ?since= is absent.
const DefaultDeadNodesSince = "1 day ago"

// Server exposes the query runner over HTTP.
type Server struct {
	addr      string
	runner    *engine.Runner
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	now       func() time.Time
}

// NewServer creates a new HTTP API server. A nil gatherer serves the default registry.
func NewServer(addr string, runner *engine.Runner, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		runner:    runner,
		gatherer:  gatherer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		now:       time.Now,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/api/health", s.handleHealth)
	r.POST("/api/query", s.handleQuery)
	r.POST("/api/stats", s.handleStats)
	r.GET("/api/deadnodes", s.handleDeadNodes)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Address returns the bound address once started.
func (s *Server) Address() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type queryRequest struct {
	Queries []string `json:"queries" binding:"required"`
}

// handleQuery returns the normalized table as JSON, or CSV with ?format=csv.
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing queries field"})
		return
	}

	run, err := s.runner.Run(c.Request.Context(), req.Queries...)
	if err != nil {
		s.fail(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := run.Table.WriteCSV(c.Writer); err != nil {
			s.logger.Warn("csv write failed", slog.Any("error", err))
		}
		return
	}

	var index []any
	if values, ok := run.Table.Index(); ok {
		index = make([]any, len(values))
		for i, v := range values {
			if v.Valid {
				index[i] = v.Time
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":     run.ID,
		"elapsed_ms": run.Elapsed.Milliseconds(),
		"index_kind": run.Table.IndexKind().String(),
		"columns":    run.Table.Columns(),
		"index":      index,
		"rows":       run.Table.Records(),
		"row_count":  run.Table.Len(),
	})
}

type statsRequest struct {
	Queries []string `json:"queries" binding:"required"`
	Op      string   `json:"op" binding:"required"`
	Model   string   `json:"model"`
	Series  []string `json:"series"`
}

func (s *Server) handleStats(c *gin.Context) {
	var req statsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing queries/op field"})
		return
	}
	op, err := stats.ParseOp(req.Op)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.runner.Stats(c.Request.Context(), engine.StatsRequest{
		Queries: req.Queries,
		Op:      op,
		Model:   weighting.ParseModel(req.Model),
		Series:  req.Series,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	results := make(map[string]any, len(res.Outputs))
	for name, out := range res.Outputs {
		if op.Scalar() {
			results[name] = jsonNumber(out.Value)
			continue
		}
		values := make([]any, len(out.Values))
		for i, v := range out.Values {
			values[i] = jsonNumber(v)
		}
		results[name] = values
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  res.RunID,
		"op":      string(res.Op),
		"model":   res.Model.String(),
		"results": results,
	})
}

func (s *Server) handleDeadNodes(c *gin.Context) {
	raw := c.DefaultQuery("since", DefaultDeadNodesSince)
	since, err := utils.ParseRelative(raw, s.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	names, err := s.runner.DeadNodes(c.Request.Context(), since)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"since": since.UTC(),
		"names": names,
		"count": len(names),
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyBatch),
		errors.Is(err, result.ErrUnknownColumn),
		errors.Is(err, weighting.ErrDegenerateRange):
		return http.StatusBadRequest
	case errors.Is(err, result.ErrEmptyResult),
		errors.Is(err, result.ErrUnexpectedShape),
		errors.Is(err, result.ErrMalformedResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, result.ErrQueryFailed),
		errors.Is(err, result.ErrPartialFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// jsonNumber maps NaN and infinities to null, which encoding/json cannot represent.
func jsonNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
