package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/auth"
	"github.com/orneryd/nornicgraph/pkg/config"
	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/logging"
	"github.com/orneryd/nornicgraph/pkg/server"
	"github.com/orneryd/nornicgraph/pkg/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting nornicgraph",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Stringer("config", cfg))

	app, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// loadServeConfig layers serve's flags over the config file and environment.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	return config.Load(path, func(c *config.Config) {
		if flags.Changed("port") {
			c.Server.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("data-dir") {
			c.Storage.DataDir, _ = flags.GetString("data-dir")
		}
		if flags.Changed("storage") {
			c.Storage.Backend, _ = flags.GetString("storage")
		}
		if flags.Changed("in-memory") {
			c.Storage.InMemory, _ = flags.GetBool("in-memory")
		}
		if noAuth, _ := flags.GetBool("no-auth"); noAuth {
			c.Auth.Enabled = false
		}
		if flags.Changed("log-level") {
			c.Logging.Level, _ = flags.GetString("log-level")
		}
	})
}

// app is a running server and everything it owns.
type app struct {
	svc    *graphdb.Service
	server *server.Server
	logger *zap.Logger
}

// start opens storage, authentication and the HTTP listener. The transaction
// reaper runs until ctx is done.
func start(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if !cfg.Storage.InMemory {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	catalog := graphdb.NewCatalog(cfg.Databases.Default, cfg.Databases.Extra,
		storageFactory(cfg.Storage, logger), logger)
	svc := graphdb.NewService(catalog,
		graphdb.WithLogger(logger),
		graphdb.WithTransactionTTL(cfg.Transactions.TTL),
		graphdb.WithBookmarkWait(cfg.Transactions.BookmarkWait))
	svc.StartReaper(ctx)

	// Open the default database now so storage problems fail startup.
	if _, err := catalog.Get(""); err != nil {
		svc.Close(context.Background()) //nolint:errcheck
		return nil, err
	}

	authenticator, err := newAuthenticator(cfg.Auth, logger)
	if err != nil {
		svc.Close(context.Background()) //nolint:errcheck
		return nil, err
	}

	srv, err := server.New(svc, authenticator, serverConfig(cfg.Server))
	if err != nil {
		svc.Close(context.Background()) //nolint:errcheck
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.SetLogger(logger)
	if err := srv.Start(); err != nil {
		svc.Close(context.Background()) //nolint:errcheck
		return nil, fmt.Errorf("starting server: %w", err)
	}

	return &app{svc: svc, server: srv, logger: logger}, nil
}

// shutdown stops accepting requests, then rolls back open transactions and
// closes every database.
func (a *app) shutdown(ctx context.Context) error {
	return errors.Join(a.server.Stop(ctx), a.svc.Close(ctx))
}

// storageFactory opens one engine per database name. Persistent sqlite
// databases live in <data-dir>/<name>.db and badger ones in <data-dir>/<name>/.
func storageFactory(cfg config.StorageConfig, logger *zap.Logger) graphdb.Factory {
	return func(name string) (storage.Engine, error) {
		switch cfg.Backend {
		case config.BackendBadger:
			opts := storage.BadgerOptions{
				DataDir:  filepath.Join(cfg.DataDir, name),
				InMemory: cfg.InMemory,
				Logger:   logging.Badger(logger.With(zap.String("database", name))),
			}
			if cfg.InMemory {
				opts.DataDir = ""
			}
			engine, err := storage.NewBadgerEngineWithOptions(opts)
			if err != nil {
				return nil, err
			}
			return engine, nil
		case config.BackendSQLite:
			path := ":memory:"
			if !cfg.InMemory {
				path = filepath.Join(cfg.DataDir, name+".db")
			}
			exec, err := storage.OpenSQLite(path)
			if err != nil {
				return nil, err
			}
			return storage.NewSQLEngine(exec), nil
		default:
			return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
		}
	}
}

// newAuthenticator returns nil when authentication is disabled, which the
// server treats as an anonymous admin for every request.
func newAuthenticator(cfg config.AuthConfig, logger *zap.Logger) (*auth.Authenticator, error) {
	if !cfg.Enabled {
		logger.Warn("authentication disabled")
		return nil, nil
	}

	ac := auth.DefaultAuthConfig()
	ac.MinPasswordLength = cfg.MinPasswordLength
	ac.JWTSecret = []byte(cfg.JWTSecret)
	ac.TokenExpiry = cfg.TokenExpiry
	ac.MaxFailedLogins = cfg.MaxFailedLogins
	ac.LockoutDuration = cfg.LockoutDuration

	authenticator, err := auth.NewAuthenticator(ac)
	if err != nil {
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	authenticator.SetLogger(logger)

	if _, err := authenticator.CreateUser(cfg.AdminUser, cfg.AdminPassword, []auth.Role{auth.RoleAdmin}); err != nil {
		return nil, fmt.Errorf("creating admin user: %w", err)
	}
	return authenticator, nil
}

func serverConfig(cfg config.ServerConfig) *server.Config {
	sc := server.DefaultConfig()
	sc.Address = cfg.Address
	sc.Port = cfg.Port
	sc.ReadTimeout = cfg.ReadTimeout
	sc.WriteTimeout = cfg.WriteTimeout
	sc.IdleTimeout = cfg.IdleTimeout
	sc.MaxRequestSize = int64(cfg.MaxRequestSize)
	sc.CORSOrigins = cfg.CORSOrigins
	sc.EnableCORS = len(cfg.CORSOrigins) > 0
	sc.EnableMetrics = cfg.EnableMetrics
	sc.TLSCertFile = cfg.TLSCertFile
	sc.TLSKeyFile = cfg.TLSKeyFile
	return sc
}
