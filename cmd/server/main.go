package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diewo77/ecole/auth"
	"github.com/diewo77/ecole/internal/config"
	"github.com/diewo77/ecole/internal/db"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/server"
	"github.com/diewo77/ecole/internal/services"
	"github.com/diewo77/ecole/internal/storage"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm"
)

var (
	migrateOnlyFlag   = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag      = flag.Bool("seed-only", false, "Seed the development fixture and exit")
	sqlMigrationsFlag = flag.Bool("sql-migrations", false, "Use the versioned SQL migrations instead of AutoMigrate (postgres only)")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg := config.Load()
	log := newLogger(cfg.App)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	dbConn, err := db.Open(cfg.Database, log)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}

	if err := migrate(dbConn, cfg, *sqlMigrationsFlag || cfg.App.Migrations); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	if *migrateOnlyFlag {
		log.Info("migrations completed")
		return
	}

	if *seedOnlyFlag || cfg.App.Seed {
		if err := db.Seed(dbConn); err != nil {
			log.Error("seeding failed", "err", err)
			os.Exit(1)
		}
		log.Info("seed completed")
		if *seedOnlyFlag {
			return
		}
	}

	store, uploadDir, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		log.Error("failed to open attachment store", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Validate already rejected malformed entries.
	proxies, _ := cfg.Server.TrustedPrefixes()

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authGate := policy.NewAuthGate()
	attachments := services.NewAttachmentService(store, "ecole", log)

	handler := server.New(server.Deps{
		DB:           dbConn,
		Issuer:       issuer,
		Gate:         authGate,
		Identity:     services.NewIdentityService(dbConn, issuer),
		Users:        services.NewUserService(dbConn, authGate),
		Posts:        services.NewPostService(dbConn, authGate, attachments),
		Threads:      services.NewThreadService(dbConn, authGate, attachments),
		Log:          log,
		UploadDir:    uploadDir,
		SecureCookie: cfg.Auth.CookieSecure,
		LoginLimiter: server.NewIPLimiter(server.LoginRate, server.LoginBurst).TrustProxies(proxies),
		APILimiter:   server.NewIPLimiter(server.APIRate, server.APIBurst).TrustProxies(proxies),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server starting", "port", cfg.Server.Port, "dev", cfg.App.Dev, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", "err", err)
	}
	log.Info("server stopped gracefully")
}

func newLogger(app config.AppConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(app.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if app.Dev {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// migrate applies the schema. Versioned SQL migrations only exist for postgres;
// sqlite always uses AutoMigrate.
func migrate(dbConn *gorm.DB, cfg *config.Config, sqlMigrations bool) error {
	if sqlMigrations && cfg.Database.Driver == "postgres" {
		if err := db.RunSQLMigrations(cfg.Database.DSN()); err != nil {
			return err
		}
		return db.CheckSchema(dbConn)
	}
	return db.AutoMigrate(dbConn)
}

// openStore returns the attachment store and, for the local backend, the
// directory to serve under /uploads/.
func openStore(cfg config.StorageConfig) (storage.Store, string, func(), error) {
	switch cfg.Backend {
	case "gcs":
		// The client keeps ctx for token refreshes, so it must outlive this call.
		g, err := storage.NewGCS(context.Background(), cfg.GCSBucket, cfg.GCSCredentialsFile, cfg.GCSPublicBaseURL)
		if err != nil {
			return nil, "", nil, err
		}
		return g, "", func() { _ = g.Close() }, nil
	default:
		l, err := storage.NewLocal(cfg.UploadDir, cfg.UploadBaseURL)
		if err != nil {
			return nil, "", nil, err
		}
		return l, l.Dir(), func() {}, nil
	}
}
