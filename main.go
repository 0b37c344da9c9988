package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bybit-funding-bot/config"
	"bybit-funding-bot/internal/api"
	"bybit-funding-bot/internal/bybit"
	"bybit-funding-bot/internal/cache"
	"bybit-funding-bot/internal/database"
	"bybit-funding-bot/internal/dispatch"
	"bybit-funding-bot/internal/engine"
	"bybit-funding-bot/internal/logging"
	"bybit-funding-bot/internal/market"
	"bybit-funding-bot/internal/notification"
	"bybit-funding-bot/internal/signals"
	"bybit-funding-bot/internal/universe"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize notification manager
	notifyManager := notification.NewManager()

	if cfg.Notification.DiscordWebhookURL != "" {
		discordNotifier := notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.Notification.DiscordWebhookURL,
			Enabled:    true,
		})
		notifyManager.AddNotifier(discordNotifier)
		logger.Info("Discord notifications enabled")
	}

	if cfg.Notification.TelegramBotToken != "" && cfg.Notification.TelegramChatID != "" {
		telegramNotifier := notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.Notification.TelegramBotToken,
			ChatID:   cfg.Notification.TelegramChatID,
			Enabled:  true,
		})
		notifyManager.AddNotifier(telegramNotifier)
		logger.Info("Telegram notifications enabled")
	}

	// Optional Redis-backed governor store
	var kv dispatch.KV
	if cfg.Redis.Enabled {
		cacheService, err := cache.New(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer cacheService.Close()
		kv = cacheService
		logger.Info("Redis governor store enabled", "address", cfg.Redis.Address)
	}

	// Optional PostgreSQL persistence
	var repo *database.Repository
	if cfg.Postgres.Enabled {
		db, err := database.NewDB(cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		repo = database.NewRepository(db)
		logger.Info("PostgreSQL persistence enabled", "database", cfg.Postgres.Database)
	}

	// Exchange client and universe
	client := bybit.NewClient(cfg.Bybit.Testnet)
	loader := universe.NewLoader(client, cfg.Universe)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 60*time.Second)
	symbols, err := loader.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatalf("Failed to load symbol universe: %v", err)
	}
	if len(symbols) == 0 {
		log.Fatalf("Symbol universe is empty, check filter thresholds")
	}
	logger.Info("Symbol universe loaded", "symbols", len(symbols))

	// Market state store, seeded before streaming starts
	store := market.NewStore(client)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Minute)
	store.InitSymbols(initCtx, symbols)
	cancelInit()
	logger.Info("Market state initialized", "tracked", len(store.Symbols()))

	// Streaming transport
	stream := bybit.NewPublicStream(cfg.Bybit.Testnet)
	stream.Start()
	for _, symbol := range symbols {
		if err := stream.Subscribe(symbol); err != nil {
			logger.Warn("Subscription failed, will retry on reconnect", "symbol", symbol, "error", err)
		}
	}

	// Dispatch governor
	govLogger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "governor").Logger()
	governor := dispatch.New(dispatch.Config{
		Cooldown:       time.Duration(cfg.Dispatch.CooldownSeconds) * time.Second,
		MaxPerHour:     cfg.Dispatch.MaxAlertsPerHour,
		ScoreThreshold: cfg.Signals.MinScoreThreshold,
	}, notifyManager, kv, govLogger)

	// Signal engine
	evaluator := signals.NewEvaluator(store, cfg.Signals.EnableBTCContext)
	var engineRepo engine.Repository
	if repo != nil {
		engineRepo = repo
	}
	eng := engine.New(store, stream, evaluator, governor, engineRepo, logger)
	eng.Start()

	// Ops HTTP server
	var server *api.Server
	if cfg.Server.Enabled {
		var signalStore api.SignalStore
		if repo != nil {
			signalStore = repo
		}
		server = api.NewServer(api.ServerConfig{Port: cfg.Server.Port},
			eng, governor, stream, signalStore, store.Symbols)
		go func() {
			if err := server.Start(); err != nil {
				log.Fatalf("Failed to start ops server: %v", err)
			}
		}()
		logger.Info("Ops API available", "port", cfg.Server.Port)
	}

	logger.Info("Funding signal pipeline running",
		"testnet", cfg.Bybit.Testnet,
		"score_threshold", cfg.Signals.MinScoreThreshold,
		"cooldown_seconds", cfg.Dispatch.CooldownSeconds,
		"max_alerts_per_hour", cfg.Dispatch.MaxAlertsPerHour)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down ops server: %v", err)
		}
	}

	eng.Stop()
	stream.Stop()

	log.Println("Shutdown complete")
}
