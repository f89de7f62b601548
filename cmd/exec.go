package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"queue-monitor/config"
	"queue-monitor/internal/handlers"
	"queue-monitor/internal/queuestatus"
	"queue-monitor/internal/store"
	"queue-monitor/monitoring"
	"queue-monitor/security"
	"queue-monitor/services"
	"queue-monitor/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	var notifier services.Notifier
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig), logger)
	}

	// Initialize services
	metrics := monitoring.NewMonitor()
	queueStore := store.NewRedisStore(redisClient)
	orchestrator := services.NewOrchestrator(queueStore, metrics, notifier, logger)
	replayer := services.NewReplayer(queueStore, orchestrator, logger)
	limiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})
	app.RootCmd.AddCommand(newRebuildCommand(replayer, cfg.QueueIDs))

	// Setup graceful shutdown
	go handleShutdown(cancel)

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort, metrics)
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		queues, err := loadMonitoredQueues(e.App, cfg)
		if err != nil {
			return err
		}

		monitors := make([]*services.Monitor, 0, len(queues))
		queueIDs := make([]string, 0, len(queues))
		for _, q := range queues {
			client, err := queuestatus.NewClient(cfg.QueueStatusURL, loc, cfg.FetchTimeout)
			if err != nil {
				return err
			}
			monitors = append(monitors, services.NewMonitor(client, orchestrator, services.MonitorOptions{
				QueueID:      q.ID,
				Credentials:  services.Credentials{Email: cfg.Email, Password: cfg.Password},
				Interval:     q.Interval,
				FetchTimeout: cfg.FetchTimeout,
				Cooldown:     cfg.TimeoutCooldown,
				ProbeRate:    cfg.SessionProbeRate,
			}, metrics, logger))
			queueIDs = append(queueIDs, q.ID)
		}

		if len(monitors) > 0 {
			go func() {
				if err := services.MonitorAll(ctx, monitors...); err != nil {
					slog.Error("monitoring stopped", "error", err)
				}
			}()
		} else {
			slog.Warn("no queues to monitor; serving the query API only")
		}

		queueHandler := handlers.NewQueueHandler(queueStore, replayer, queueIDs)
		adminHandler := handlers.NewAdminHandler(queueStore, queueIDs)

		api := e.Router.Group("/api/v1")
		api.BindFunc(limiter.Limit)

		// Queue endpoints
		api.GET("/queues/{queueId}/entries", queueHandler.ListEntries)
		api.GET("/queues/{queueId}/entries/{hash}", queueHandler.GetEntry)
		api.GET("/queues/{queueId}/events", queueHandler.ListEvents)
		api.GET("/queues/{queueId}/history", queueHandler.GetHistory)
		api.POST("/queues/{queueId}/rebuild", queueHandler.Rebuild).
			Bind(apis.RequireSuperuserAuth())

		// Admin endpoints
		api.GET("/admin/queues", adminHandler.GetQueueDashboard).
			Bind(apis.RequireSuperuserAuth())

		// Health check
		e.Router.GET("/health", healthHandler(redisClient))

		slog.Info("server routes registered", "queues", queueIDs)

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		return e.Next()
	})

	// Start server
	return app.Start()
}

type monitoredQueue struct {
	ID       string
	Interval time.Duration
}

// loadMonitoredQueues merges QUEUE_IDS with the enabled records of the
// monitored_queues collection. A record's interval overrides INTERVAL.
func loadMonitoredQueues(app core.App, cfg *config.Config) ([]monitoredQueue, error) {
	seen := make(map[string]int)
	var queues []monitoredQueue
	add := func(id string, interval time.Duration) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if i, ok := seen[id]; ok {
			queues[i].Interval = interval
			return
		}
		seen[id] = len(queues)
		queues = append(queues, monitoredQueue{ID: id, Interval: interval})
	}

	for _, id := range cfg.QueueIDs {
		add(id, cfg.Interval)
	}

	records, err := app.FindAllRecords("monitored_queues", dbx.HashExp{"enabled": true})
	if err != nil {
		// The collection only exists once migrations ran.
		slog.Warn("monitored_queues unavailable", "error", err)
		return queues, nil
	}
	for _, r := range records {
		interval := cfg.Interval
		if seconds := r.GetInt("interval_seconds"); seconds > 0 {
			interval = time.Duration(seconds) * time.Second
		}
		add(r.GetString("queue_id"), interval)
	}
	return queues, nil
}

func healthHandler(redisClient *redis.Client) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func serveMetrics(port string, metrics *monitoring.Monitor) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	slog.Info("serving metrics", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
