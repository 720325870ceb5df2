// Package api provides the HTTP surface for tripbot: the messaging
// webhook, health and CRM diagnostics, pricing reports and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pacific-gateway/tripbot/internal/observability"
	"github.com/pacific-gateway/tripbot/internal/pricing"
	"github.com/pacific-gateway/tripbot/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// ConversationHandler processes one deduplicated inbound message.
// Implemented by flow.Engine.
type ConversationHandler interface {
	HandleMessage(ctx context.Context, userID, text string) error
}

// TokenChecker verifies that CRM credentials are usable. Implemented by
// crm.Client.
type TokenChecker interface {
	CheckToken(ctx context.Context) error
}

// Server routes HTTP requests to the conversation engine and reporting
// endpoints.
type Server struct {
	addr        string
	verifyToken string
	engine      ConversationHandler
	store       store.Store
	crm         TokenChecker
	metrics     *observability.Metrics
	params      pricing.Params
	dispatcher  *Dispatcher
}

// Opts holds configuration options for the server.
type Opts struct {
	Addr         string
	VerifyToken  string
	Engine       ConversationHandler
	Store        store.Store
	CRM          TokenChecker
	Metrics      *observability.Metrics
	Params       pricing.Params
	UserCooldown time.Duration
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(t string) Option {
	return func(o *Opts) { o.VerifyToken = t }
}

// WithEngine sets the conversation engine.
func WithEngine(e ConversationHandler) Option {
	return func(o *Opts) { o.Engine = e }
}

// WithServerStore sets the backing store.
func WithServerStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithCRMChecker sets the CRM credential checker. Nil disables the
// token-check endpoint.
func WithCRMChecker(tc TokenChecker) Option {
	return func(o *Opts) { o.CRM = tc }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithPricingParams sets the parameters for ad-hoc pricing reports.
func WithPricingParams(p pricing.Params) Option {
	return func(o *Opts) { o.Params = p }
}

// WithUserCooldown sets the per-user inbound rate limit interval.
func WithUserCooldown(d time.Duration) Option {
	return func(o *Opts) { o.UserCooldown = d }
}

// NewServer creates the API server.
func NewServer(opts ...Option) *Server {
	cfg := Opts{
		Addr:         DefaultAddr,
		Params:       pricing.DefaultParams(),
		UserCooldown: DefaultUserCooldown,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}

	s := &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		engine:      cfg.Engine,
		store:       cfg.Store,
		crm:         cfg.CRM,
		metrics:     cfg.Metrics,
		params:      cfg.Params,
	}
	s.dispatcher = NewDispatcher(cfg.Engine, cfg.Store, cfg.Metrics, cfg.UserCooldown)
	return s
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/crm/token-check", s.tokenCheckHandler)
	mux.HandleFunc("/report/pricing", s.pricingReportHandler)
	mux.HandleFunc("/pricing/compute", s.pricingComputeHandler)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// an interrupt signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}
