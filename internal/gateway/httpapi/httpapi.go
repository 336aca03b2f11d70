// Package httpapi implements the HTTP gateway for the action engine.
//
// Security:
//   - API key authentication on /v1 (constant-time comparison)
//   - Callback routes authenticated by short-lived DYNAMIC tokens
//   - Request body size limits (default 1 MB)
//   - Per-sender rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/msaidizi/internal/callback"
	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/observability"
	"github.com/jkaninda/msaidizi/internal/ratelimit"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// TurnExecutor runs one dialog turn. The result envelope is always
// well-formed; failures are reported inside it, never as an error.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, req *domain.TurnRequest) *domain.TurnResult
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Keys accepted on /v1. Empty = auth disabled.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP gateway serving the turn and callback endpoints.
type Gateway struct {
	config    Config
	engine    TurnExecutor
	callbacks *callback.Service // nil = callback routes disabled.
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
	group     *okapi.Group
}

// NewGateway creates the HTTP gateway.
func NewGateway(cfg Config, engine TurnExecutor, limiter *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		engine:  engine,
		limiter: limiter,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithCallbacks attaches the callback service, enabling the
// /callback/{bot}/{name} routes.
func (g *Gateway) WithCallbacks(svc *callback.Service) *Gateway {
	g.callbacks = svc
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Msaidizi",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/turn", g.handleTurn,
		okapi.DocSummary("Execute one dialog turn"),
		okapi.DocTags("Turns"),
		okapi.DocRequestBody(domain.TurnRequest{}),
		okapi.DocResponse(domain.TurnResult{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Callback routes, authenticated by DYNAMIC tokens rather than API keys.
	if g.callbacks != nil {
		g.okapi.Post("/callback/{bot}/{name}", g.handleCallback,
			okapi.DocSummary("Invoke a registered callback script"),
			okapi.DocTags("Callbacks"),
			okapi.DocPathParam("bot", "string", "Bot identifier"),
			okapi.DocPathParam("name", "string", "Callback name"),
			okapi.DocResponse(CallbackResponse{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

func (g *Gateway) handleTurn(c *okapi.Context) error {
	var req domain.TurnRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid turn envelope")
	}
	if req.Bot == "" {
		return c.AbortBadRequest("bot is required")
	}
	if req.ActionName == "" {
		return c.AbortBadRequest("action_name is required")
	}
	if req.SenderID == "" {
		req.SenderID = req.Tracker.SenderID
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(req.Bot + "/" + req.SenderID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	g.logger.Info("turn request",
		slog.String("bot", req.Bot),
		slog.String("action", req.ActionName),
		slog.String("sender_id", req.SenderID),
	)

	// The engine never raises across this boundary: failures come back
	// inside the envelope with Success=false.
	result := g.engine.ExecuteTurn(c.Context(), &req)
	return c.OK(result)
}

// CallbackResponse is the JSON response for callback invocations.
type CallbackResponse struct {
	Data  any    `json:"data,omitempty"`
	Type  string `json:"type,omitempty"`
	Async bool   `json:"async,omitempty"`
}

func (g *Gateway) handleCallback(c *okapi.Context) error {
	bot := c.Param("bot")
	name := c.Param("name")
	token := c.Request().URL.Query().Get("token")
	if token == "" {
		return c.JSON(http.StatusUnauthorized, ErrorBody{Error: "token is required", Kind: string(domain.KindUnauthorized)})
	}

	// Empty bodies are valid: many callbacks are bare triggers.
	var payload map[string]any
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&payload); err != nil {
			return c.AbortBadRequest("invalid payload")
		}
	}

	res, err := g.callbacks.Invoke(c.Context(), bot, name, token, payload)
	if err != nil {
		kind := domain.KindOf(err)
		g.logger.Warn("callback invocation failed",
			slog.String("bot", bot),
			slog.String("name", name),
			slog.String("kind", string(kind)),
		)
		return c.JSON(kind.HTTPStatus(), ErrorBody{Error: publicError(kind), Kind: string(kind)})
	}

	code := http.StatusOK
	if res.Async {
		code = http.StatusAccepted
	}
	return c.JSON(code, CallbackResponse{Data: res.Data, Type: res.Type, Async: res.Async})
}

// publicError keeps callback error bodies generic. Script output and store
// internals stay in the logs.
func publicError(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindUnauthorized:
		return "invalid or expired token"
	case domain.KindNotFound:
		return "callback not found"
	case domain.KindValidation:
		return "invalid request"
	default:
		return "callback execution failed"
	}
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key with a constant-time compare.
// With no configured keys, authentication is disabled.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		ok := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				ok = true
			}
		}
		if !ok {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}
