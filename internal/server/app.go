// Package server initializes and runs the messaging hub. It wires the
// durable stores, crypto identity, session registry, router, discovery
// responder and WebSocket transport, and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/filex"
	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/server/audit"
	"github.com/seitanmen/QuickMessenger/internal/server/auth"
	"github.com/seitanmen/QuickMessenger/internal/server/config"
	"github.com/seitanmen/QuickMessenger/internal/server/discovery"
	historyrepo "github.com/seitanmen/QuickMessenger/internal/server/repositories/history"
	usersrepo "github.com/seitanmen/QuickMessenger/internal/server/repositories/users"
	"github.com/seitanmen/QuickMessenger/internal/server/router"
	"github.com/seitanmen/QuickMessenger/internal/server/sessions"
	"github.com/seitanmen/QuickMessenger/internal/server/transport"
	"github.com/seitanmen/QuickMessenger/internal/server/users"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	server    *transport.Server
	discovery *discovery.Responder
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	dataDir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir init error: %w", err)
	}

	keypair, err := cryptox.LoadOrCreateKeyPair(dataDir)
	if err != nil {
		return nil, fmt.Errorf("hub key init error: %w", err)
	}

	atRestKey := cryptox.KeyFromSecret(cfg.AESSecretKey)

	userRepo, err := usersrepo.NewFileRepository(dataDir, atRestKey)
	if err != nil {
		return nil, fmt.Errorf("user store init error: %w", err)
	}
	history, err := historyrepo.NewFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("history store init error: %w", err)
	}
	auditLog := audit.NewLog(dataDir, atRestKey)

	tokens := auth.NewTokenAuthority(cfg.JWTSecret, cfg.TokenTTL)
	userService := users.NewService(userRepo, tokens, cfg.TOTPEnroll)
	registry := sessions.NewRegistry()

	hub := transport.NewHub(keypair, registry, userService, auditLog, logger)
	hub.SetRouter(router.New(history, hub, logger))

	return &App{
		config:    cfg,
		logger:    logger,
		server:    transport.NewServer(hub, cfg.HubAddr, cfg.TLSCertFile, cfg.TLSKeyFile, logger),
		discovery: discovery.NewResponder(cfg.DiscoveryPort, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting hub...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	// The discovery responder is best-effort: a bind failure degrades to a
	// hub reachable by explicit address only.
	if err := app.discovery.Listen(); err != nil {
		app.logger.Error(ctx, "discovery responder unavailable", "error", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.discovery.Serve(ctx); err != nil {
				app.logger.Error(ctx, "discovery responder stopped", "error", err)
			}
		}()
	}

	// Transport and discovery fail independently: a dead WebSocket listener
	// leaves the discovery responder answering probes and vice versa.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "hub server stopped", "error", err)
		}
	}()

	wg.Wait()
}
