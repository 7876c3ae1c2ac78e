// Package app assembles the components and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatline/internal/api"
	"chatline/internal/call"
	"chatline/internal/config"
	"chatline/internal/hub"
	"chatline/internal/presence"
	"chatline/internal/relay"
	"chatline/internal/room"
	"chatline/internal/router"
	"chatline/internal/store"
	"chatline/internal/typing"
	"chatline/internal/ws"
)

// Application coordinates the components. Initialization follows
// dependency order: store, registry, coordinators, router, hub, HTTP.
type Application struct {
	config     *config.Config
	store      *store.Manager
	registry   *ws.Registry
	hub        *hub.Hub
	httpServer *http.Server

	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := ws.NewRegistry()
	rooms := room.NewManager(st, cfg.Mongo.Timeout)
	pres := presence.NewPublisher(registry, st, cfg.Mongo.Timeout)
	typ := typing.NewCoordinator(registry, rooms, cfg.Realtime.TypingTimeout)
	calls := call.NewCoordinator(registry, cfg.Realtime.RingTimeout, cfg.Realtime.MaxCallDuration)
	rel := relay.New(registry, st, cfg.Mongo.Timeout)
	rt := router.New(typ, calls, rel, rooms, pres)
	h := hub.New(registry, pres, typ, calls, rooms, rt)

	wsHandler := ws.NewHandler(h, ws.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	})
	apiServer := api.NewServer(st, h, registry)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/stats", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      st,
		registry:   registry,
		hub:        h,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub loop and the HTTP server. It returns once the
// server is accepting connections, or with the startup error.
func (app *Application) Start(ctx context.Context) error {
	slog.Info("starting chatline", "addr", app.httpServer.Addr)

	hubCtx, cancel := context.WithCancel(context.Background())
	app.hubCancel = cancel
	app.hubDone = make(chan struct{})
	go func() {
		defer close(app.hubDone)
		app.hub.Run(hubCtx)
	}()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		slog.Info("chatline started")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP first so no new
// sockets arrive, then the hub, then the store.
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down chatline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	if app.hubCancel != nil {
		app.hubCancel()
		select {
		case <-app.hubDone:
		case <-ctx.Done():
		}
	}

	if err := app.store.Close(ctx); err != nil {
		slog.Warn("store shutdown error", "error", err)
	}

	slog.Info("chatline shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
