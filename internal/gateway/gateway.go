// ABOUTME: Gateway that wires store, completion client, orchestrator and HTTP server
// ABOUTME: Manages route registration, health endpoints, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/completion"
	"github.com/2389/dialog-relay/internal/config"
	"github.com/2389/dialog-relay/internal/dedupe"
	"github.com/2389/dialog-relay/internal/dialog"
	"github.com/2389/dialog-relay/internal/store"
)

const (
	// APIPrefix is the path prefix of every chat route.
	APIPrefix = "/api/v1/chat"

	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20

	defaultPingInterval = 25 * time.Second
	dedupeMaxEntries    = 100_000
)

// Gateway serves the chat API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	completion  completion.Client
	verifier    auth.TokenVerifier
	dialog      *dialog.Orchestrator
	broadcaster *dialog.Broadcaster
	dedupe      *dedupe.Cache
	limiter     *userLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	// pingInterval spaces keep-alive comments on the change feed.
	pingInterval time.Duration
}

// Option overrides a component New would otherwise build from config.
type Option func(*Gateway)

// WithStore injects the conversation store. The Gateway closes it on Shutdown.
func WithStore(s store.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// WithCompletionClient injects the completion client.
func WithCompletionClient(c completion.Client) Option {
	return func(g *Gateway) { g.completion = c }
}

// WithPingInterval changes the change feed keep-alive interval.
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pingInterval = d
		}
	}
}

// New creates a Gateway from cfg. Components not injected via opts are
// built from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:       cfg,
		logger:       logger.With("component", "gateway"),
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(gw)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	gw.verifier = verifier

	if gw.completion == nil {
		gw.completion, err = completion.NewOpenAIClient(completion.OpenAIConfig{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			Timeout:     cfg.Provider.Timeout,
			StreamUsage: true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating completion client: %w", err)
		}
	}

	if gw.store == nil {
		gw.store, err = store.NewSQLiteStore(cfg.Database.Path,
			store.WithDefaultModel(cfg.Provider.DefaultModel),
			store.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
	}

	gw.broadcaster = dialog.NewBroadcaster(logger)
	gw.dedupe = dedupe.New(cfg.Dialog.DedupeWindow, dedupeMaxEntries)
	if cfg.RateLimit.Enabled() {
		gw.limiter = newUserLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	gw.dialog = dialog.New(gw.store, gw.completion, logger, dialog.Options{
		DefaultModel:   cfg.Provider.DefaultModel,
		TitleLength:    cfg.Dialog.TitleLength,
		PersistTimeout: cfg.Dialog.PersistTimeout,
		Notifier:       gw.broadcaster,
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return gw, nil
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	g.registerAPIRoutes(mux)

	return chain(mux,
		recoveryMiddleware(g.logger),
		loggingMiddleware(g.logger),
	)
}

// registerAPIRoutes registers the chat API behind the auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	limited := func(h http.HandlerFunc) http.Handler {
		return authed(rateLimitMiddleware(g.limiter, g.logger)(h))
	}
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}
	p := APIPrefix

	route("GET "+p+"/conversations", g.handleListConversations)
	route("POST "+p+"/conversations", g.handleCreateConversation)
	route("GET "+p+"/conversations/events", g.handleConversationEvents)
	route("GET "+p+"/conversations/{id}", g.handleGetConversation)
	route("DELETE "+p+"/conversations/{id}", g.handleDeleteConversation)
	route("GET "+p+"/conversations/{id}/messages", g.handleGetMessages)
	route("GET "+p+"/conversations/{id}/transcript", g.handleTranscript)
	route("GET "+p+"/usage", g.handleUsage)

	mux.Handle("POST "+p+"/dialog/stream", limited(g.handleDialogStream))
	mux.Handle("POST "+p+"/dialog/completion", limited(g.handleDialogCompletion))
}

// Run listens on the configured address and serves until ctx is canceled,
// then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Close feeds first so their handlers return and Shutdown can drain.
	g.broadcaster.Close()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	g.dedupe.Close()
	if g.limiter != nil {
		g.limiter.Close()
	}

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
