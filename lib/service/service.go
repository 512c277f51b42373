/*
 * Keepsake
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package service assembles the keepsake server process: storage,
// services, auth, the capsule facade, the unlock scheduler and the HTTP
// listeners, with ordered graceful shutdown.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/lib/auth"
	"github.com/gravitational/keepsake/lib/backend"
	"github.com/gravitational/keepsake/lib/backend/lite"
	"github.com/gravitational/keepsake/lib/backend/memory"
	"github.com/gravitational/keepsake/lib/capsule"
	"github.com/gravitational/keepsake/lib/defaults"
	"github.com/gravitational/keepsake/lib/lifecycle"
	"github.com/gravitational/keepsake/lib/notify"
	"github.com/gravitational/keepsake/lib/services/local"
	"github.com/gravitational/keepsake/lib/unlock"
	"github.com/gravitational/keepsake/lib/web"
)

// Config is the runtime configuration of the keepsake server process.
type Config struct {
	// DataDir is the directory for server state.
	DataDir string
	// ListenAddr is the HTTP API listen address.
	ListenAddr string
	// DiagAddr is the diagnostics (metrics, health) listen address.
	// Empty disables the diagnostics listener.
	DiagAddr string
	// Debug lowers the log level to debug.
	Debug bool

	// Backend selects and configures the storage backend.
	Backend backend.Config

	// SigningKey is the token signing key. Generated and persisted
	// under DataDir when empty.
	SigningKey []byte
	// AccessTokenTTL overrides the access token lifetime.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL overrides the refresh token lifetime.
	RefreshTokenTTL time.Duration
	// BCryptCost overrides the password hashing work factor.
	BCryptCost int

	// MinUnlockLead overrides the minimum seal-to-unlock interval.
	MinUnlockLead time.Duration
	// MaxUnlockLead overrides the maximum seal-to-unlock interval.
	MaxUnlockLead time.Duration
	// EarlyViewThreshold overrides the unfolding threshold.
	EarlyViewThreshold time.Duration
	// SweepInterval overrides the unlock sweep period.
	SweepInterval time.Duration

	// Clock is the process-wide time source.
	Clock clockwork.Clock
	// Logger is the process logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.HTTPListenAddr
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = defaults.BackendType
	}
	if cfg.Backend.Path == "" {
		cfg.Backend.Path = filepath.Join(cfg.DataDir, defaults.BackendDir)
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(keepsake.ComponentKey, keepsake.ComponentProcess)
	}
	return nil
}

// Process is an assembled keepsake server.
type Process struct {
	cfg Config
	log *slog.Logger

	backend   backend.Backend
	scheduler *unlock.Scheduler
	apiServer *http.Server
	diag      *http.Server
}

// NewProcess wires a server process from the config. Nothing listens
// until Run is called.
func NewProcess(ctx context.Context, cfg Config) (*Process, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	log := cfg.Logger

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	signingKey := cfg.SigningKey
	if len(signingKey) == 0 {
		signingKey, err = loadOrCreateSigningKey(cfg.DataDir)
		if err != nil {
			b.Close()
			return nil, trace.Wrap(err)
		}
	}

	machine, err := lifecycle.New(lifecycle.Config{
		MinUnlockLead:      cfg.MinUnlockLead,
		MaxUnlockLead:      cfg.MaxUnlockLead,
		EarlyViewThreshold: cfg.EarlyViewThreshold,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}

	identity := local.NewIdentityService(b)
	capsules := local.NewCapsuleService(b)

	authServer, err := auth.NewServer(auth.ServerConfig{
		Identity:        identity,
		SigningKey:      signingKey,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		BCryptCost:      cfg.BCryptCost,
		Clock:           cfg.Clock,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}

	facade, err := capsule.NewServer(capsule.ServerConfig{
		Capsules:   capsules,
		Identity:   identity,
		Drafts:     local.NewDraftService(b),
		Recipients: local.NewRecipientService(b),
		Machine:    machine,
		Clock:      cfg.Clock,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}

	sweeper, err := unlock.NewService(unlock.ServiceConfig{
		Capsules: capsules,
		Machine:  machine,
		Notifier: notify.NewLogNotifier(),
		Clock:    cfg.Clock,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}
	scheduler, err := unlock.NewScheduler(unlock.SchedulerConfig{
		Service:  sweeper,
		Interval: cfg.SweepInterval,
		Clock:    cfg.Clock,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}

	api, err := web.NewAPIServer(web.APIServerConfig{
		Auth:     authServer,
		Capsules: facade,
		Identity: identity,
		Clock:    cfg.Clock,
	})
	if err != nil {
		b.Close()
		return nil, trace.Wrap(err)
	}

	p := &Process{
		cfg:       cfg,
		log:       log,
		backend:   b,
		scheduler: scheduler,
		apiServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      api,
			ReadTimeout:  defaults.HTTPReadTimeout,
			WriteTimeout: defaults.HTTPWriteTimeout,
			IdleTimeout:  defaults.HTTPIdleTimeout,
		},
	}
	if cfg.DiagAddr != "" {
		p.diag = &http.Server{
			Addr:    cfg.DiagAddr,
			Handler: diagHandler(),
		}
	}
	return p, nil
}

func openBackend(ctx context.Context, cfg Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "memory":
		return memory.New(), nil
	case "lite":
		b, err := lite.New(ctx, lite.Config{Path: cfg.Backend.Path})
		return b, trace.Wrap(err)
	default:
		return nil, trace.BadParameter("unsupported backend type %q, expected %q or %q",
			cfg.Backend.Type, "lite", "memory")
	}
}

// loadOrCreateSigningKey persists the token signing key under the data
// directory so tokens survive restarts.
func loadOrCreateSigningKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "signing.key")
	key, err := os.ReadFile(path)
	if err == nil && len(key) > 0 {
		return key, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, trace.ConvertSystemError(err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return key, nil
}

func diagHandler() http.Handler {
	unlock.RegisterMetrics(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Run starts the listeners and the unlock scheduler and blocks until the
// context is canceled or a listener fails. Shutdown is ordered: the
// scheduler stops first so no sweep writes race the closing backend,
// then the HTTP listeners drain, then storage closes.
func (p *Process) Run(ctx context.Context) error {
	p.scheduler.Start()
	defer p.backend.Close()
	defer p.scheduler.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		p.log.Info("HTTP API listening.", "addr", p.apiServer.Addr, "version", keepsake.Version)
		if err := p.apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	if p.diag != nil {
		group.Go(func() error {
			p.log.Info("Diagnostics listening.", "addr", p.diag.Addr)
			if err := p.diag.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return trace.Wrap(err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		p.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer cancel()
		var errs []error
		errs = append(errs, p.apiServer.Shutdown(shutdownCtx))
		if p.diag != nil {
			errs = append(errs, p.diag.Shutdown(shutdownCtx))
		}
		return trace.NewAggregate(errs...)
	})
	return trace.Wrap(group.Wait())
}
