// Package nerdgraph executes NRQL and entity-search requests against the
// NerdGraph GraphQL API and hands back raw results for normalization.
package nerdgraph

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/miradorstack/nrquery/internal/cache"
	"github.com/miradorstack/nrquery/internal/metrics"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/utils"
)

const (
	nrqlDocument = `query($accountId: Int!, $nrql: Nrql!) { actor { account(id: $accountId) { nrql(query: $nrql) { results } } } }`

	deadNodesDocument = `query($query: String!) { actor { entitySearch(query: $query) { results { entities { name guid } } } } }`

	latencyReportEvery = 20
)

// ErrMissingCredentials is returned by NewClient without an account id or API key.
var ErrMissingCredentials = errors.New("nerdgraph account id and api key are required")

// GraphQLError carries the messages of a response "errors" array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// Config is the explicit transport configuration; nothing is read from the environment here.
type Config struct {
	Endpoint   string
	AccountID  int64
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryMin   time.Duration
	RetryMax   time.Duration
}

// Client issues GraphQL requests one at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
	latency    *utils.LatencyTracker
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithCache stores successful NRQL payloads in p for ttl.
func WithCache(p cache.Provider, ttl time.Duration) Option {
	return func(c *Client) {
		if p != nil {
			c.cache = p
			c.cacheTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient validates credentials and applies transport defaults.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AccountID == 0 || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.newrelic.com/graphql"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 200 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = cfg.RetryMin
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache.NoopProvider{},
		logger:     slog.Default(),
		latency:    utils.NewLatencyTracker(512),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute runs one NRQL query. Failures are reported in the result, not returned.
func (c *Client) Execute(ctx context.Context, nrql string) result.RawResult {
	start := c.now()
	key := c.cacheKey(nrql)
	if body, ok := c.cached(ctx, key); ok {
		res := result.RawResult{Query: nrql, Success: true, StatusCode: http.StatusOK, Body: body, Cached: true, Elapsed: c.now().Sub(start)}
		c.observe(res)
		return res
	}

	res := c.do(ctx, nrql, nrqlDocument, map[string]any{"accountId": c.cfg.AccountID, "nrql": nrql})
	res.Elapsed = c.now().Sub(start)
	if res.Success {
		if err := c.cache.Set(ctx, key, res.Body, c.cacheTTL); err != nil {
			c.logger.Warn("query cache write failed", slog.String("query", nrql), slog.Any("error", err))
		}
	}
	c.observe(res)
	return res
}

// ExecuteRaw posts an arbitrary GraphQL document. label names it in results and logs.
func (c *Client) ExecuteRaw(ctx context.Context, label, document string, variables map[string]any) result.RawResult {
	start := c.now()
	res := c.do(ctx, label, document, variables)
	res.Elapsed = c.now().Sub(start)
	c.observe(res)
	return res
}

// ExecuteBatch runs queries strictly in order, one round trip at a time.
func (c *Client) ExecuteBatch(ctx context.Context, queries []string) []result.RawResult {
	out := make([]result.RawResult, 0, len(queries))
	for _, q := range queries {
		out = append(out, c.Execute(ctx, q))
	}
	return out
}

// DeadNodes searches for entities that stopped reporting after since.
func (c *Client) DeadNodes(ctx context.Context, since time.Time) result.RawResult {
	search := DeadNodesSearch(since)
	return c.ExecuteRaw(ctx, search, deadNodesDocument, map[string]any{"query": search})
}

// DeadNodesSearch renders the entity search for hosts silent since the given time.
func DeadNodesSearch(since time.Time) string {
	return "reporting is false and lastReportingChangeAt > " + strconv.FormatInt(since.UnixMilli(), 10)
}

func (c *Client) cacheKey(nrql string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(c.cfg.AccountID, 10) + "\x00" + nrql))
	return "nrquery:" + hex.EncodeToString(sum[:])
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if _, noop := c.cache.(cache.NoopProvider); noop {
		return nil, false
	}
	body, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.ObserveCache(true)
		return body, true
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		c.logger.Warn("query cache read failed", slog.Any("error", err))
	}
	metrics.ObserveCache(false)
	return nil, false
}

// do retries network errors, 429 and 5xx responses with exponential backoff.
func (c *Client) do(ctx context.Context, label, document string, variables map[string]any) result.RawResult {
	payload, err := json.Marshal(map[string]any{"query": document, "variables": variables})
	if err != nil {
		return result.RawResult{Query: label, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	b := &backoff.Backoff{Min: c.cfg.RetryMin, Max: c.cfg.RetryMax, Factor: 2, Jitter: true}
	var res result.RawResult
	for attempt := 0; ; attempt++ {
		var retry bool
		res, retry = c.post(ctx, label, payload)
		if !retry || attempt >= c.cfg.MaxRetries {
			return res
		}
		wait := b.Duration()
		c.logger.Debug("retrying nerdgraph request",
			slog.String("query", label),
			slog.Int("attempt", attempt+1),
			slog.String("status", res.Status()),
			slog.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return result.RawResult{Query: label, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
}

func (c *Client) post(ctx context.Context, label string, payload []byte) (result.RawResult, bool) {
	res := result.RawResult{Query: label}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		res.Err = err
		return res, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Err = err
		return res, ctx.Err() == nil
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("read response: %w", err)
		return res, true
	}
	res.Body = body

	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("nerdgraph returned %s", resp.Status)
		return res, resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	}

	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		res.Err = fmt.Errorf("decode response: %w", err)
		return res, false
	}
	if len(envelope.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range envelope.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		res.Err = gqlErr
		return res, false
	}

	res.Success = true
	return res, false
}

func (c *Client) observe(res result.RawResult) {
	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = metrics.OutcomeError
		c.logger.Warn("nerdgraph query failed",
			slog.String("query", res.Query),
			slog.String("status", res.Status()),
			slog.Duration("elapsed", res.Elapsed),
		)
	}
	metrics.ObserveQuery(res.Elapsed, outcome)

	if n := c.latency.Observe(res.Elapsed); n%latencyReportEvery == 0 {
		c.logger.Info("nerdgraph latency",
			slog.Uint64("queries", n),
			slog.Duration("p95", c.latency.Percentile(95)),
		)
	}
}
