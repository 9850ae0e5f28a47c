package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/handler"
	"github.com/fulplan/Shattawale/internal/repository"
	"github.com/fulplan/Shattawale/internal/service"
	"github.com/fulplan/Shattawale/pkg/config"
	"github.com/fulplan/Shattawale/pkg/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.Info("Service configuration",
		zap.String("port", cfg.Port),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("momo_environment", cfg.MomoTargetEnv),
		zap.Int("payment_timeout_minutes", cfg.PaymentTimeoutMinutes),
		zap.Int("reconcile_interval_minutes", cfg.ReconcileIntervalMinutes))

	// Initialize components
	dynamoClient, err := repository.NewDynamoDBClient(cfg)
	if err != nil {
		log.Fatal("Failed to create DynamoDB client:", err)
	}

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.PaymentTopic, logger)
	defer producer.Close()

	orderRepo := repository.NewOrderRepository(dynamoClient, cfg.LedgerTableName)
	paymentRepo := repository.NewPaymentRepository(dynamoClient, cfg.LedgerTableName)

	momoClient := gateway.NewClient(gateway.Options{
		BaseURL:           cfg.MomoBaseURL,
		APIUser:           cfg.MomoAPIUser,
		APIKey:            cfg.MomoAPIKey,
		SubscriptionKey:   cfg.MomoSubscriptionKey,
		TargetEnvironment: cfg.MomoTargetEnv,
		Currency:          cfg.Currency,
		WebhookSecret:     cfg.WebhookSecret,
	}, logger)

	paymentTimeout := time.Duration(cfg.PaymentTimeoutMinutes) * time.Minute
	reconcileInterval := time.Duration(cfg.ReconcileIntervalMinutes) * time.Minute

	resolver := service.NewResolver(orderRepo, paymentRepo, producer, logger)
	checkoutService := service.NewCheckoutService(orderRepo, paymentRepo, momoClient, cfg.Currency, paymentTimeout, logger)
	webhookService := service.NewWebhookService(paymentRepo, momoClient, resolver, cfg.WebhookAllowUnsigned, logger)
	reconciler := service.NewReconciler(paymentRepo, momoClient, resolver, paymentTimeout, reconcileInterval, logger)

	checkoutHandler := handler.NewCheckoutHandler(checkoutService, logger)
	webhookHandler := handler.NewWebhookHandler(webhookService, logger)
	adminHandler := handler.NewAdminHandler(reconciler, logger)

	// Reconciliation schedule
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	go reconciler.Start(reconcileCtx)

	// Setup Gin Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.RequestID())

	// Routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", checkoutHandler.InitiateCheckout)
		v1.GET("/orders/:id", checkoutHandler.GetOrder)
		v1.GET("/payments/:id", checkoutHandler.GetPayment)
		v1.POST("/webhooks/momo", webhookHandler.HandlePaymentNotification)
		v1.GET("/admin/reconciliation", adminHandler.ReconciliationStatus)
		v1.POST("/admin/reconciliation/run", adminHandler.ForceReconciliation)
		v1.GET("/health", func(c *gin.Context) {
			status := gin.H{
				"status":  "healthy",
				"service": "payment-service",
				"port":    cfg.Port,
			}
			if err := producer.HealthCheck(); err != nil {
				status["kafka"] = "unhealthy"
				c.JSON(503, status)
				return
			}
			status["kafka"] = "healthy"
			c.JSON(200, status)
		})
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	stopReconcile()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}
