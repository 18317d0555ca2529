// Package server provides the public entry point for initializing the
// relay server: config, telemetry, the durable store, the credential
// vault, the upstream proxy, and the HTTP router, composed in order.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/internal/api"
	"github.com/sessionrelay/sessionrelay/internal/api/handlers"
	"github.com/sessionrelay/sessionrelay/internal/api/middleware"
	"github.com/sessionrelay/sessionrelay/internal/auth"
	"github.com/sessionrelay/sessionrelay/internal/config"
	"github.com/sessionrelay/sessionrelay/internal/proxy"
	"github.com/sessionrelay/sessionrelay/internal/store"
	"github.com/sessionrelay/sessionrelay/internal/telemetry"
	"github.com/sessionrelay/sessionrelay/internal/vault"
)

// Server holds the initialized relay.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the durable data store.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all relay components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the relay with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		dataStore, err = store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
	} else {
		dataStore, err = store.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("sqlite store initialized")
	}

	v, err := vault.New(cfg.Vault.MasterSecret)
	if err != nil {
		dataStore.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}

	p := proxy.New(cfg.Upstream.BaseURL)
	h := handlers.New(dataStore, v, p)
	authmw := middleware.NewAuth(auth.NewService(dataStore))
	router := api.NewRouter(cfg, h, authmw)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
