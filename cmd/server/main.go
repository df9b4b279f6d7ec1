package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/aralacademy/backend/internal/config"
	"github.com/aralacademy/backend/internal/database"
	"github.com/aralacademy/backend/internal/handlers"
	"github.com/aralacademy/backend/internal/jobs"
	"github.com/aralacademy/backend/internal/middleware"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/routes"
	"github.com/aralacademy/backend/internal/services/affiliate"
	"github.com/aralacademy/backend/internal/services/attribution"
	"github.com/aralacademy/backend/internal/services/commission"
	"github.com/aralacademy/backend/internal/services/disbursement"
	"github.com/aralacademy/backend/internal/services/disbursement/bank"
	"github.com/aralacademy/backend/internal/services/disbursement/gcash"
	"github.com/aralacademy/backend/internal/services/fraud"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/aralacademy/backend/internal/services/reporting"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.LoadConfig()

	// Initialize database
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Create job queue
	jobQueue := queue.NewRedisQueue(redisClient, db, 4)

	// Ledger durations from config
	attributionWindow := time.Duration(cfg.Ledger.AttributionWindowDays) * 24 * time.Hour
	clearingHold := time.Duration(cfg.Ledger.ClearingHoldDays) * 24 * time.Hour
	velocityWindow := time.Duration(cfg.Ledger.VelocityWindowHours) * time.Hour

	// Initialize services
	attributionService := attribution.NewAttributionService(db, attributionWindow)
	commissionService := commission.NewCommissionService(db, clearingHold)
	fraudService := fraud.NewFraudService(db, clearingHold,
		fraud.DefaultVelocityRule(velocityWindow, cfg.Ledger.VelocityMaxConversions))
	payoutService := payout.NewPayoutService(db, cfg.Ledger.MinPayoutAmount)
	affiliateService := affiliate.NewAffiliateService(db)
	reportingService := reporting.NewReportingService(db)

	// Register disbursement providers
	providers := disbursement.NewRegistry()
	providers.Register(models.PayoutMethodGcash, gcash.NewGCashProvider(cfg.GCash))
	providers.Register(models.PayoutMethodBankTransfer, bank.NewBankProvider(cfg.Bank))

	// Register job handlers and start the queue
	jobs.RegisterAllJobHandlers(jobQueue, db, commissionService, fraudService, payoutService, providers)
	jobQueue.Start()

	// Schedule recurring sweeps
	scheduler := gocron.NewScheduler(time.UTC)
	if err := jobs.ScheduleRecurringJobs(scheduler, jobQueue); err != nil {
		log.Fatalf("Failed to schedule recurring jobs: %v", err)
	}
	scheduler.StartAsync()

	// Initialize handlers
	trackHandler := handlers.NewTrackHandler(attributionService)
	webhookHandler := handlers.NewWebhookHandler(attributionService, commissionService, payoutService, cfg.Webhook)
	affiliateHandler := handlers.NewAffiliateHandler(affiliateService, reportingService)
	adminHandler := handlers.NewAdminHandler(affiliateService, commissionService, fraudService, payoutService, reportingService, jobQueue)

	// Click tracking allows bursts; sustained abuse is cut off per IP
	trackLimiter := middleware.NewRateLimiter(rate.Limit(10), 30)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Webhook-Signature"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Register routes
	routes.RegisterRoutes(router, trackHandler, webhookHandler, affiliateHandler, adminHandler, trackLimiter)

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Printf("AralAcademy ledger API running on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	scheduler.Stop()
	jobQueue.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Forced shutdown: %v", err)
	}
}
