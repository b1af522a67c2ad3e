package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openinbox/inboxd/internal/api"
	"github.com/openinbox/inboxd/internal/cache"
	"github.com/openinbox/inboxd/internal/config"
	"github.com/openinbox/inboxd/internal/delivery"
	"github.com/openinbox/inboxd/internal/gateway"
	"github.com/openinbox/inboxd/internal/lockfile"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/notify"
	"github.com/openinbox/inboxd/internal/outbox"
	"github.com/openinbox/inboxd/internal/perm"
	"github.com/openinbox/inboxd/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	initializeLogger()

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := config.Load()
	applyFlags(&cfg)

	metrics.Register()

	if err := run(cfg); err != nil {
		slog.Error("inboxd failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("inboxd exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// applyFlags lets command line arguments override environment config.
func applyFlags(cfg *config.Config) {
	apiAddr := flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	dbDSN := flag.String("db-dsn", cfg.DatabaseURL, "database DSN (overrides $DATABASE_URL)")
	redisAddr := flag.String("redis-addr", cfg.RedisAddr, "Redis address (overrides $REDIS_ADDR)")
	qrOutput := flag.String("qr-output", cfg.WhatsAppQRPath, "path to write the WhatsApp login QR code")
	flag.Parse()

	cfg.APIAddr = *apiAddr
	cfg.DatabaseURL = *dbDSN
	cfg.RedisAddr = *redisAddr
	cfg.WhatsAppQRPath = *qrOutput

	slog.Debug("configuration resolved",
		"apiAddr", cfg.APIAddr,
		"dsnSet", cfg.DatabaseURL != "",
		"redisSet", cfg.RedisAddr != "",
		"maxAttempts", cfg.MaxAttempts,
		"batchSize", cfg.BatchSize,
		"concurrency", cfg.Concurrency)
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, db, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store failed: %w", err)
	}
	defer closeStore()

	var c cache.Cache
	if cfg.RedisAddr != "" {
		c = cache.NewRedisCache(cfg.RedisAddr, "", cfg.RedisDB)
		slog.Info("using Redis cache", "addr", cfg.RedisAddr)
	} else {
		c = cache.NewInMemoryCache()
		slog.Warn("no REDIS_ADDR set, using in-memory cache (single process only)")
	}
	defer c.Close()

	var repo perm.Repository
	if db != nil {
		repo = perm.NewSQLRepository(db)
	} else {
		repo = perm.NewInMemoryRepository()
		slog.Warn("no database configured, permission repository is empty")
	}
	epCache := perm.NewEPCache(repo, c, cfg.EPCacheTTL)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build adapter registry failed: %w", err)
	}
	slog.Info("delivery adapters registered", "platforms", registry.Platforms())

	gw := gateway.NewGateway(epCache, c, st, cfg.JWTSecret)
	if err := gw.LoadAssignments(); err != nil {
		return fmt.Errorf("load assignments failed: %w", err)
	}
	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("gateway permission listener stopped", "error", err)
		}
	}()

	notifyToken := cfg.StatusNotifyToken
	if notifyToken == "" {
		// Single-process default: worker and API share a per-boot secret.
		// Multi-process deployments must set STATUS_NOTIFY_TOKEN.
		notifyToken, err = generateToken()
		if err != nil {
			return fmt.Errorf("generate status token failed: %w", err)
		}
	}
	notifier := notify.NewHTTPNotifier(statusNotifyTarget(cfg), notifyToken)
	worker := outbox.NewWorker(st, registry, notifier, outbox.Opts{
		MaxAttempts:  cfg.MaxAttempts,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
	})
	go worker.Run(ctx)

	var sink outbox.AlertSink
	if cfg.AlertWebhookURL != "" {
		sink = outbox.NewWebhookSink(cfg.AlertWebhookURL)
	}
	monitor := outbox.NewAlertMonitor(st, sink, outbox.AlertOpts{
		Threshold: cfg.FailAlertThreshold,
		Window:    cfg.FailAlertWindow,
		Cooldown:  cfg.FailAlertCooldown,
	})
	go monitor.Run(ctx)

	server := api.NewServer(st, epCache, gw, cfg.JWTSecret, notifyToken)
	httpServer := &http.Server{Addr: cfg.APIAddr, Handler: server.Router()}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("inboxd listening", "addr", cfg.APIAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore picks the storage backend from the DSN. The *sql.DB is shared
// with the permission repository; it is nil for the in-memory store.
func openStore(cfg config.Config) (store.MessageStore, *sql.DB, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no DATABASE_URL set, using in-memory store (data is lost on restart)")
		return store.NewInMemoryStore(), nil, func() {}, nil
	}

	if store.DetectDSNType(cfg.DatabaseURL) == "postgres" {
		slog.Info("using PostgreSQL store")
		pg, err := store.NewPostgresStore(store.WithDSN(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, nil, err
		}
		return pg, pg.DB(), func() { pg.Close() }, nil
	}

	// The SQLite lease has no row-level locking across processes, so an
	// exclusive lock on the database directory enforces a single instance.
	lock, err := lockfile.AcquireLock(filepath.Dir(cfg.DatabaseURL))
	if err != nil {
		return nil, nil, nil, err
	}

	slog.Info("using SQLite store", "path", cfg.DatabaseURL)
	sq, err := store.NewSQLiteStore(store.WithDSN(cfg.DatabaseURL))
	if err != nil {
		lock.Release()
		return nil, nil, nil, err
	}
	return sq, sq.DB(), func() {
		sq.Close()
		lock.Release()
	}, nil
}

// buildRegistry registers an adapter for every platform whose credentials
// are configured.
func buildRegistry(cfg config.Config) (*delivery.Registry, error) {
	registry := delivery.NewRegistry()

	if cfg.TelegramBotToken != "" {
		tg, err := delivery.NewTelegramAdapter(delivery.TelegramOpts{BotToken: cfg.TelegramBotToken})
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		registry.Register("telegram", tg)
	}

	if cfg.TwilioAccountSID != "" {
		tw, err := delivery.NewTwilioAdapter(delivery.TwilioOpts{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		})
		if err != nil {
			return nil, fmt.Errorf("twilio adapter: %w", err)
		}
		registry.Register("sms", tw)
	}

	if cfg.WhatsAppDBDSN != "" {
		wa, err := delivery.NewWhatsAppAdapter(delivery.WhatsAppOpts{
			DBDSN:  cfg.WhatsAppDBDSN,
			QRPath: cfg.WhatsAppQRPath,
		})
		if err != nil {
			return nil, fmt.Errorf("whatsapp adapter: %w", err)
		}
		registry.Register("whatsapp", wa)
	}

	return registry, nil
}

// generateToken produces a random shared secret for status callbacks.
func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// statusNotifyTarget resolves the worker's status-callback URL. When no
// explicit target is configured, the callback loops back to this process.
func statusNotifyTarget(cfg config.Config) string {
	if cfg.StatusNotifyURL != "" {
		return cfg.StatusNotifyURL
	}
	addr := cfg.APIAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/internal/message-status"
}
