/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the CRM workflow server (time-off lifecycle and
  chat task side-channel). Handles configuration, dependency injection,
  and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env/env, flags)
  2. Initialize SQLite store and seed users/clients
  3. Pick the locker (Redis when configured, in-process otherwise)
  4. Pick the event publisher (Kafka when configured, log otherwise)
  5. Build services, handler and router
  6. Start the reminder scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config file (default: config.yaml, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database
  -token   Print a bearer token for this user id and exit (dev only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reminder scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close publisher, Redis and database connections

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/crm-workflow/api"
	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/config"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/notify"
	"github.com/warp/crm-workflow/roles"
	"github.com/warp/crm-workflow/store/redislock"
	"github.com/warp/crm-workflow/store/sqlite"
	"github.com/warp/crm-workflow/timeoff"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	tokenFor := flag.String("token", "", "print a bearer token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})).With("service", "crm-workflow")
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := seed(ctx, store, cfg); err != nil {
		return err
	}

	if *tokenFor != "" {
		tok, err := api.NewAuthenticator(cfg.JWTSecret, store, nil).Mint(generic.EntityID(*tokenFor), 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	var locker generic.Locker = generic.NewKeyedMutex()
	if cfg.RedisURL != "" {
		client, err := redislock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		rl := redislock.New(client, logger)
		if cfg.OperationTimeout*2 > rl.TTL {
			rl.TTL = cfg.OperationTimeout * 2
		}
		locker = rl
		logger.Info("using redis locker")
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
		logger.Info("using kafka publisher", "brokers", cfg.KafkaBrokers)
	}

	clock := generic.SystemClock{}
	notifier := notify.NewNotifier(publisher, clock, logger)
	timeOff := timeoff.NewService(store, store, registry, timeoff.ServiceConfig{
		Locker:   locker,
		Clock:    clock,
		Location: loc,
		Timeout:  cfg.OperationTimeout,
		Logger:   logger,
	})
	tasks := chat.NewTaskService(store, store, store, clock, loc, logger)

	handler := api.NewHandler(timeOff, tasks, notifier, logger)
	handler.Health = store
	auth := api.NewAuthenticator(cfg.JWTSecret, store, clock)
	router := api.NewRouter(handler, auth, cfg.AllowedOrigins)

	scheduler := api.NewReminderScheduler(store, roles.NewResolver(registry, store), notifier, clock, logger)
	scheduler.CheckInterval = cfg.ReminderInterval
	scheduler.RemindAfter = cfg.ReminderAfter
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "db", cfg.DBPath, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seed upserts the configured users and clients.
func seed(ctx context.Context, store *sqlite.Store, cfg config.Config) error {
	for _, u := range cfg.Users {
		if err := store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, c := range cfg.Clients {
		if err := store.PutClient(ctx, c); err != nil {
			return fmt.Errorf("seed client %s: %w", c.ID, err)
		}
	}
	if len(cfg.Users)+len(cfg.Clients) > 0 {
		slog.Info("seeded directory", "users", len(cfg.Users), "clients", len(cfg.Clients))
	}
	return nil
}
