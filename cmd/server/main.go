package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/advisory-platform/advisory-server/internal/api"
	"github.com/advisory-platform/advisory-server/internal/config"
	"github.com/advisory-platform/advisory-server/internal/janitor"
	"github.com/advisory-platform/advisory-server/internal/logging"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/repository"
	"github.com/advisory-platform/advisory-server/internal/service"
)

func main() {
	logger := logging.New("server")

	// Load configuration
	cfg := config.LoadConfig()

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up database")
	}
	defer db.Close()

	// Create repository
	repo := repository.NewPostgresRepository(db)

	// Change-feed hub
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer)

	// Create services
	notificationSvc := service.NewDefaultNotificationService(repo, hub)
	ledgerSvc := service.NewDefaultLedgerService(repo, hub, notificationSvc, cfg.Ledger.LowBalanceThreshold)
	queueSvc := service.NewDefaultQueueService(repo, hub, notificationSvc, cfg.Queue.DefaultEstimatedMinutes)
	authSvc := service.NewDefaultAuthService(repo, notificationSvc, cfg.Auth.JWTSecret)

	// Scheduled cleanup of stale completed queue entries
	sweeper := janitor.New(repo, logging.New("janitor"), cfg.Janitor.Schedule,
		time.Duration(cfg.Janitor.RetainCompletedHours)*time.Hour)
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start janitor")
	}
	defer sweeper.Stop()

	// Create API handler
	handler := api.NewHandler(authSvc, ledgerSvc, queueSvc, notificationSvc, hub, logging.New("api"))

	// Set up Gin router
	router := gin.Default()

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", []byte(cfg.Auth.JWTSecret))
		c.Next()
	})

	// Set up routes
	handler.SetupRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info().Str("addr", serverAddr).Msg("starting server")
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
