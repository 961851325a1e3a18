package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/mroshb/trivia_bot/internal/config"
	"github.com/mroshb/trivia_bot/internal/database"
	"github.com/mroshb/trivia_bot/internal/lock"
	"github.com/mroshb/trivia_bot/internal/metrics"
	"github.com/mroshb/trivia_bot/internal/middleware"
	"github.com/mroshb/trivia_bot/internal/orchestrator"
	"github.com/mroshb/trivia_bot/internal/quizzer"
	"github.com/mroshb/trivia_bot/internal/repositories"
	"github.com/mroshb/trivia_bot/internal/server"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/mroshb/trivia_bot/pkg/utils"
	"github.com/mroshb/trivia_bot/telegram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize logger
	logger.Init()
	defer logger.Sync()

	logger.Info("Starting Telegram Trivia Bot...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", err)
	}

	// Validate production security settings
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProductionSecurity(); err != nil {
			logger.Fatal("Production security validation failed", err)
		}
		logger.Info("Production security validation passed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get database instance", err)
	}
	defer sqlDB.Close()

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}
	if err := database.SeedQuestions(db); err != nil {
		logger.Warn("Failed to seed questions", "error", err)
	}

	pool, err := database.ConnectPool(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect job queue pool", err)
	}
	defer pool.Close()
	if err := orchestrator.Migrate(ctx, pool); err != nil {
		logger.Fatal("Failed to migrate job queue", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	rnd := utils.NewRandom(time.Now().UnixNano())
	rounds := repositories.NewRoundRepository(db)
	scores := repositories.NewScoreRepository(db)
	sessions := repositories.NewSessionRepository(db)
	tokens := repositories.NewCallbackRepository(db, rnd)
	questions := repositories.NewQuestionRepository(db)
	locks := lock.NewClient(repositories.NewLockRepository(db), lock.Options{
		Lease:         cfg.GetLockLease(),
		RetryInterval: cfg.GetLockRetry(),
		Wait:          cfg.GetLockWait(),
	}, m)

	orch, err := orchestrator.New(pool, repositories.NewRunRepository(db), sessions, rounds, locks, orchestrator.Options{
		QuestionTimeout: cfg.GetQuestionTimeout(),
		Intermission:    cfg.GetIntermission(),
	})
	if err != nil {
		logger.Fatal("Failed to create orchestrator", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal("Failed to create bot", err)
	}
	if cfg.AppEnv == "development" {
		api.Debug = true
	}
	logger.Info("Authorized on account", "username", api.Self.UserName)

	messenger := telegram.NewMessenger(api)
	game := quizzer.NewGame(quizzer.Deps{
		Rounds:       rounds,
		Scores:       scores,
		Tokens:       tokens,
		Sessions:     sessions,
		Questions:    questions,
		Locks:        locks,
		Orchestrator: orch,
		Messenger:    messenger,
		Random:       rnd,
		Metrics:      m,
		Settings: quizzer.Settings{
			QuestionsPerGame: cfg.QuestionsPerGame,
			ContributeURL:    cfg.ContributeURL,
		},
	})
	orch.Bind(game)

	// Workers outlive the signal so that shutdown can drain them.
	workCtx := context.WithoutCancel(ctx)
	if err := orch.StartWorkers(workCtx); err != nil {
		logger.Fatal("Failed to start job workers", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerUser, cfg.RateLimitPerUser*3, time.Minute)
	defer limiter.Close()

	bot := telegram.NewBot(messenger, game, tokens, telegram.Options{
		BotID:   api.Self.ID,
		Workers: cfg.BotWorkers,
		Limiter: limiter,
	})
	bot.Start(workCtx)

	routerOpts := server.Options{
		Scores:    scores,
		Questions: questions,
		Gatherer:  registry,
		Limiter:   limiter,
		Ping:      sqlDB.PingContext,
		JWTSecret: cfg.JWTSecret,
	}
	switch cfg.BotMode {
	case config.BotModeWebhook:
		if err := setWebhook(api, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			logger.Fatal("Failed to register webhook", err)
		}
		routerOpts.WebhookSecret = cfg.WebhookSecret
		routerOpts.Webhook = bot.WebhookHandler()
	default:
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("Failed to delete webhook", "error", err)
		}
		go bot.Poll(ctx, api)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Bot started successfully", "env", cfg.AppEnv, "mode", cfg.BotMode, "addr", cfg.HTTPAddr)

	if err := server.Serve(ctx, srv); err != nil {
		logger.Error("HTTP server stopped", "error", err)
	}

	logger.Info("Shutting down gracefully...")
	bot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := orch.StopWorkers(shutdownCtx); err != nil {
		logger.Error("Failed to stop job workers", "error", err)
	}
	logger.Info("Bot stopped")
}

// setWebhook registers url together with the secret Telegram echoes in
// every webhook request.
func setWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	_, err := api.MakeRequest("setWebhook", tgbotapi.Params{
		"url":          url,
		"secret_token": secret,
	})
	return err
}
