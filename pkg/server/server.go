// Package server wires the chat service into an HTTP server: the GraphQL
// endpoint (HTTP and WebSocket on the same path), health probes and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/getmockd/chatd/pkg/auth"
	"github.com/getmockd/chatd/pkg/chat"
	"github.com/getmockd/chatd/pkg/config"
	"github.com/getmockd/chatd/pkg/graphql"
	"github.com/getmockd/chatd/pkg/httputil"
	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/metrics"
	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
)

// Server is the chatd HTTP server. It owns the store and the bus and closes
// them on Shutdown.
type Server struct {
	cfg           *config.Config
	store         store.Store
	bus           pubsub.Bus
	chat          *chat.Service
	graphql       *graphql.Handler
	subscriptions *graphql.SubscriptionHandler
	router        chi.Router
	httpServer    *http.Server
	logger        *slog.Logger
}

// New builds a Server over an opened store and bus.
func New(cfg *config.Config, st store.Store, bus pubsub.Bus, logger *slog.Logger) (*Server, error) {
	logger = logging.OrNop(logger)

	svc, err := chat.New(chat.Options{
		Store:       st,
		Bus:         bus,
		Credentials: auth.NewCredentials(cfg.AppSecret, cfg.TokenTTL),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		chat:    svc,
		graphql: graphql.NewHandler(svc.Executor(), svc.OperationContext, logger),
		subscriptions: graphql.NewSubscriptionHandler(svc.Executor(), svc.OperationContext, graphql.SubscriptionOptions{
			KeepAlive:        cfg.WS.KeepAlive,
			SkipOriginVerify: cfg.WS.SkipOriginVerify,
		}, logger),
		logger: logger,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(httpMetrics)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.Handle(s.cfg.GraphQLPath, http.HandlerFunc(s.serveGraphQL))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not_found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w, r.Method+" is not allowed on "+r.URL.Path)
	})
	return r
}

// serveGraphQL routes WebSocket upgrades to the subscription transport and
// everything else to the HTTP handler.
func (s *Server) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	if graphql.IsWebSocketUpgrade(r) {
		s.subscriptions.ServeHTTP(w, r)
		return
	}
	s.graphql.ServeHTTP(w, r)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		_ = s.closeBackends()
		return fmt.Errorf("server: listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// within the configured timeout.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chatd listening", "addr", l.Addr().String(), "graphql", s.cfg.GraphQLPath)
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = s.closeBackends()
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes WebSocket connections, drains HTTP requests, then closes
// the bus and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", "connections", s.subscriptions.ConnectionCount())

	var errs []error
	s.subscriptions.CloseAll("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	errs = append(errs, s.closeBackends())
	return errors.Join(errs...)
}

func (s *Server) closeBackends() error {
	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}
