// Package app owns the terminal's top-level lifecycle. It wires the scoped
// store, ledger, signal bus, broker transport, and optional audit/archive
// backends together, builds the session core, and runs every long-lived
// goroutine under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deskforge/tradeterm/internal/config"
	"github.com/deskforge/tradeterm/internal/notify"
	"github.com/deskforge/tradeterm/internal/server"
	"github.com/deskforge/tradeterm/internal/server/handler"
	"github.com/deskforge/tradeterm/internal/server/ws"
	"github.com/deskforge/tradeterm/internal/session"
)

// archiveSweepInterval is how often the audit archiver checks for entries
// past retention.
const archiveSweepInterval = time.Hour

// App is the root application object. It owns the configuration, logger, and
// the cleanup stack populated by Wire.
type App struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration, the path it was loaded
// from, and a logger. The path is re-read on SIGHUP.
func New(cfg *config.Config, cfgPath string, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the transport, session core, panel API
// server, WebSocket hub, notification relay, and audit archiver, then blocks
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting terminal",
		slog.String("broker", a.cfg.Broker.Addr),
		slog.String("data_dir", a.cfg.Session.DataDir),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sess := session.New(session.Config{
		LiveAccount:         a.cfg.Broker.LiveAccount,
		DebounceWindow:      a.cfg.Session.DebounceWindow.Duration,
		DebounceQuorum:      a.cfg.Session.DebounceQuorum,
		FlushInterval:       a.cfg.Session.FlushInterval.Duration,
		RecoveryStepTimeout: a.cfg.Session.RecoveryStepTimeout.Duration,
	}, deps.Transport, deps.Store, deps.Ledger, deps.Bus, deps.AuditStore, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Transport.Run(ctx) })
	g.Go(func() error { return sess.Run(ctx) })

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(hup)
		return a.watchConfigReload(ctx, hup, sess)
	})

	if deps.Notifier.Active() {
		relay := notify.NewRelay(deps.Notifier, deps.Bus, session.BusChannel, a.logger)
		g.Go(func() error { return relay.Run(ctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.Run(ctx, archiveSweepInterval)
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, sess, deps)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startServer builds the HTTP-facing surfaces and registers their goroutines
// on the group.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, sess *session.Session, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, []string{session.BusChannel}, func() map[string]any {
		active := sess.ActiveContext()
		epoch, phase := sess.RecoveryPhase()
		return map[string]any{
			"context":        active.String(),
			"armed":          sess.ArmState().Armed,
			"recovery_epoch": epoch,
			"recovery_phase": string(phase),
		}
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Session: handler.NewSessionHandler(sess, a.logger),
		Balance: handler.NewBalanceHandler(sess, a.cfg.Broker.LiveAccount, a.logger),
		Books:   handler.NewBooksHandler(sess, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// reloadNotifier is the slice of the session the reload watcher needs.
type reloadNotifier interface {
	NotifyConfigReload()
}

// watchConfigReload re-reads the configuration file on SIGHUP. Wiring-level
// settings (broker address, server port, backends) need a restart; the
// session is told regardless so it can disarm the live gate under the new
// configuration.
func (a *App) watchConfigReload(ctx context.Context, hup <-chan os.Signal, sess reloadNotifier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
		}

		cfg, err := config.Load(a.cfgPath)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			a.logger.Error("config reload failed, keeping current configuration",
				slog.String("path", a.cfgPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		a.logger.Info("configuration reloaded",
			slog.String("path", a.cfgPath),
			slog.String("log_level", cfg.LogLevel),
		)
		a.cfg = cfg
		sess.NotifyConfigReload()
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down terminal")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
