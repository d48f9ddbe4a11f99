// Package app wires configuration into a running deployment service.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mcdonaldj/sitedrop/internal/adapters/netlifyapi"
	"github.com/mcdonaldj/sitedrop/internal/adapters/osfs"
	"github.com/mcdonaldj/sitedrop/internal/adapters/ziparchiver"
	"github.com/mcdonaldj/sitedrop/internal/config"
	"github.com/mcdonaldj/sitedrop/internal/deploy"
	"github.com/mcdonaldj/sitedrop/internal/history"
	"github.com/mcdonaldj/sitedrop/internal/logging"
	"github.com/mcdonaldj/sitedrop/internal/metrics"
	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/server"
	"github.com/mcdonaldj/sitedrop/internal/session"
	"github.com/mcdonaldj/sitedrop/internal/upload"
	"github.com/mcdonaldj/sitedrop/internal/workspace"
)

// memoryHistorySize bounds the in-process history when Redis is not used.
const memoryHistorySize = 1000

// Options adjusts wiring for the calling command.
type Options struct {
	// LogOut receives structured logs; os.Stderr when nil.
	LogOut io.Writer
	// API replaces the Netlify client, mainly for tests.
	API ports.DeployAPI
}

// App holds the wired components of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Prom
	History  history.Store
	Arena    *workspace.Arena
	Pool     *upload.Pool
	Service  *deploy.Service
}

// New builds every component from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOut
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	workDir, err := config.ExpandPath(cfg.Server.WorkDir)
	if err != nil {
		return nil, err
	}

	var store history.Store
	if cfg.RedisURL != "" {
		store, err = history.NewRedisStore(cfg.RedisURL, cfg.HistoryTTL)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	} else {
		store = history.NewMemoryStore(memoryHistorySize)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewProm("sitedrop", reg)

	api := opts.API
	var configured func() bool
	if api == nil {
		client := netlifyapi.New(cfg.API.BaseURL, cfg.API.Token)
		api, configured = client, client.Configured
	}

	names, err := session.NewNameGenerator()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	fsys := osfs.New()
	arena := workspace.NewArena(fsys, workDir)
	pool := upload.NewPool(cfg.Upload.GlobalConcurrency)

	svc := deploy.New(deploy.Deps{
		Archiver:   ziparchiver.New(),
		FS:         fsys,
		Arena:      arena,
		Sessions:   session.NewManager(api, cfg.SessionOptions(), names),
		Scheduler:  upload.NewScheduler(api, fsys, pool, cfg.UploadOptions(), prom, logger),
		Configured: configured,
		History:    store,
		Metrics:    prom,
		Logger:     logger,
		Auth: deploy.KeyChecker{
			Require: cfg.Auth.RequireAPIKey,
			Keys:    cfg.Auth.APIKeys,
		},
		Limits: cfg.ArchiveLimits(),
		Policy: cfg.SitePolicy(),
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  prom,
		History:  store,
		Arena:    arena,
		Pool:     pool,
		Service:  svc,
	}, nil
}

// NewServer builds the HTTP front end for the app.
func (a *App) NewServer() *server.Server {
	return server.New(a.Service, server.Options{
		Addr:            a.Config.Server.Listen,
		MaxArchiveBytes: a.Config.Limits.MaxArchiveBytes,
		Gatherer:        a.Registry,
		Metrics:         a.Metrics,
		Logger:          a.Logger,
	})
}

// SweepWorkspaces removes workspaces abandoned by earlier processes.
func (a *App) SweepWorkspaces() {
	removed, err := a.Arena.Sweep(a.Config.Server.StaleWorkspaceAfter)
	if len(removed) > 0 {
		a.Logger.Info("removed stale workspaces", "count", len(removed))
	}
	if err != nil {
		a.Logger.Warn("workspace sweep incomplete", "error", err)
	}
}

// Close releases external connections.
func (a *App) Close() error {
	var errs []error
	if a.History != nil {
		errs = append(errs, a.History.Close())
	}
	return errors.Join(errs...)
}
