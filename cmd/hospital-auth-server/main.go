// hospital-auth-server serves the hospital administrator authentication
// API. Configuration comes from .env and the environment; see
// internal/config.
package main

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

	"github.com/MrEthical07/hospitalauth"
	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/config"
	"github.com/MrEthical07/hospitalauth/internal/server"
	"github.com/MrEthical07/hospitalauth/notify"
	"github.com/MrEthical07/hospitalauth/password"
	"github.com/MrEthical07/hospitalauth/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	accounts, closeAccounts, err := openAccounts(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAccounts()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	builder := hospitalauth.New().
		WithConfig(cfg.Engine()).
		WithRedis(rdb).
		WithAccounts(accounts).
		WithHasher(password.NewMulti(cfg.BcryptCost)).
		WithNotifier(notifier).
		WithLogger(logger)
	if cfg.GeoLookupURL != "" {
		builder.WithGeoLookup(cfg.GeoLookupURL)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	api := server.New(engine, server.Options{
		Cookies:    token.CookieWriter{Secure: engine.Production(), Domain: cfg.CookieDomain},
		TrustProxy: cfg.TrustProxy,
		Logger:     logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRedis connects to REDIS_ADDR. Development without an address runs an
// in-process miniredis.
func openRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.RedisAddr
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("miniredis: %w", err)
		}
		addr = mr.Addr()
		logger.Warn("REDIS_ADDR not set: using in-process miniredis, state is lost on restart")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}, nil
}

// openAccounts uses Postgres when DATABASE_URL is set, otherwise an
// in-memory repository holding the SEED_ADMIN_* account.
func openAccounts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (account.Repository, func(), error) {
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := account.Migrate(cfg.DatabaseURL, "up"); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres ping: %w", err)
		}
		return account.NewPostgresRepository(pool), pool.Close, nil
	}

	repo := account.NewMemoryRepository()
	seed := cfg.Seed
	if !seed.Enabled() {
		logger.Warn("no DATABASE_URL and no SEED_ADMIN_IDENTIFIER: no administrator can sign in")
		return repo, func() {}, nil
	}
	hash, err := password.NewBcrypt(cfg.BcryptCost).Hash(seed.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("seed admin: %w", err)
	}
	const seedHospitalID = 1
	repo.AddHospital(account.Hospital{ID: seedHospitalID, Code: seed.FacilityCode, Name: seed.FacilityName})
	repo.AddAdmin(account.Admin{
		ID:           "seed-admin",
		Identifier:   seed.Identifier,
		PasswordHash: hash,
		Role:         account.RoleHospitalAdmin,
		DisplayName:  seed.DisplayName,
		AlertEmail:   seed.AlertEmail,
		Active:       true,
	})
	repo.Link("seed-admin", seedHospitalID, account.AffiliationAdministrator)
	logger.Info("seeded development administrator", "identifier", seed.Identifier, "facility_code", seed.FacilityCode)
	return repo, func() {}, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.MailGatewayURL != "" {
		return notify.NewHTTPNotifier(cfg.MailGatewayURL, cfg.MailGatewayToken, cfg.MailFrom), nil
	}
	n, err := notify.NewLogNotifier(logger, cfg.Production())
	if err != nil {
		return nil, fmt.Errorf("MAIL_GATEWAY_URL is required in production: %w", err)
	}
	return n, nil
}
