package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"guardbot/internal/chatconfig"
	"guardbot/internal/config"
	"guardbot/internal/embedding"
	"guardbot/internal/enforcement"
	"guardbot/internal/features"
	"guardbot/internal/pipeline"
	"guardbot/internal/policy"
	"guardbot/internal/repository"
	"guardbot/internal/scoring"
	"guardbot/internal/server"
	"guardbot/internal/telegram_bot"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Load configuration
	cfgPath := "configs/config.yml"
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Trained artifacts are loaded once; replacing them requires a
	// restart.
	scorer, err := scoring.LoadScorer(cfg.Model.ClassifierPath, cfg.Model.ScalerPath, logger)
	if err != nil {
		logger.Fatal("Failed to load model artifacts", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db, logger)
	chatRepo := repository.NewChatRepository(db, logger)
	messageRepo := repository.NewMessageLogRepository(db, logger)
	ratingRepo := repository.NewRatingRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	banRepo := repository.NewGlobalBanRepository(db, logger)
	deletionRepo := repository.NewDeletionRepository(db, logger)

	// Embedding provider and feature extraction
	embedClient := embedding.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.VisionModel, cfg.OpenAI.Dimensions, logger)
	extractor := features.NewExtractor(embedClient, userRepo, messageRepo, ratingRepo, logger)
	if scorer.VectorLen() != extractor.VectorLen() {
		logger.Fatal("Model artifacts do not match the feature contract",
			zap.Int("model_features", scorer.VectorLen()),
			zap.Int("extractor_features", extractor.VectorLen()))
	}

	// Policy resolution
	resolver := chatconfig.NewResolver(chatRepo, logger)
	engine := policy.NewEngine(resolver, logger)

	// Platform API, shared by the executor and the bot
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("Failed to create Telegram bot API", zap.Error(err))
	}

	executor := enforcement.NewExecutor(botAPI, botAPI.Self.ID, chatRepo, userRepo, banRepo,
		ratingRepo, deletionRepo, enforcement.DefaultRetryPolicy, logger)

	processor := pipeline.NewProcessor(userRepo, chatRepo, messageRepo, reportRepo, banRepo,
		extractor, scorer, engine, executor, embedClient, embedClient, botAPI, logger,
		time.Duration(cfg.Pipeline.DeletionSweepInterval)*time.Second)

	bot := telegram_bot.NewBot(botAPI, processor, executor, engine, userRepo, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := bot.Start(ctx); err != nil {
			logger.Error("Telegram bot failed", zap.Error(err))
		}
	}()

	// Run deferred-deletion sweep in a goroutine
	go processor.Run(ctx)

	// Initialize and run the admin server
	srv := server.NewServer(cfg, processor, messageRepo, logger)
	go srv.Run(cfg.Server.Port)

	<-ctx.Done()
	logger.Info("Application stopped.")
}
