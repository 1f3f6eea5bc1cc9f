package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ledgermatch/internal/api"
	"ledgermatch/internal/api/handlers"
	"ledgermatch/internal/repository"
	"ledgermatch/internal/service"
	"ledgermatch/pkg/auth"
	"ledgermatch/pkg/config"
	"ledgermatch/pkg/logger"
	"ledgermatch/pkg/postgres"

	"go.uber.org/zap"
)

// @title LedgerMatch API
// @version 1.0
// @description Semantic matching of financial inbox documents against ledger transactions

// @contact.name API Support
// @contact.email support@ledgermatch.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting LedgerMatch service")

	// Initialize database
	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db, appLogger)
	inboxRepo := repository.NewInboxRepository(db, appLogger)
	paymentRepo := repository.NewPaymentRepository(db, appLogger)
	suggestionRepo := repository.NewSuggestionRepository(db, appLogger)
	calibrationRepo := repository.NewCalibrationRepository(db, appLogger)

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration, cfg.JWT.RefreshExp)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtManager, appLogger)

	embeddingService, err := service.NewEmbeddingService(&cfg.GigaChat, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize embedding service", zap.Error(err))
	}
	defer embeddingService.Close()

	retriever := service.NewCandidateRetriever(paymentRepo, appLogger)
	scoringEngine := service.NewScoringEngine(paymentRepo, appLogger)
	calibrationService := service.NewCalibrationService(calibrationRepo, suggestionRepo, appLogger)
	patternChecker := service.NewMerchantPatternChecker(paymentRepo, appLogger)

	matchingService := service.NewMatchingService(
		inboxRepo,
		paymentRepo,
		suggestionRepo,
		retriever,
		scoringEngine,
		calibrationService,
		patternChecker,
		embeddingService,
		embeddingService,
		cfg.Matching.ExplainAutoMatches,
		appLogger,
	)

	batchCoordinator := service.NewBatchCoordinator(matchingService, inboxRepo, calibrationService, appLogger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, appLogger)
	matchHandler := handlers.NewMatchHandler(matchingService, batchCoordinator, appLogger)
	calibrationHandler := handlers.NewCalibrationHandler(calibrationService, appLogger)
	suggestionHandler := handlers.NewSuggestionHandler(matchingService, appLogger)

	// Setup router
	app := api.SetupRouter(authHandler, matchHandler, calibrationHandler, suggestionHandler, jwtManager, appLogger)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
