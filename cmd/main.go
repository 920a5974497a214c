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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"catalog-service/internal/config"
	"catalog-service/internal/handlers"
	"catalog-service/internal/importer"
	"catalog-service/internal/middleware"
	"catalog-service/internal/notify"
	"catalog-service/internal/queue"
	"catalog-service/internal/repository"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal("Failed to create upload directory:", err)
	}

	// Redis backs both the import job queue and the stats cache
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL:", err)
	}
	redisClient := redis.NewClient(redisOpts)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("WARNING: Failed to connect to Redis: %v (imports cannot be queued until it is back)", err)
	} else {
		log.Println("Redis connected successfully")
	}
	cancelPing()

	// Repositories
	productsRepo := repository.NewProductsRepository(db, redisClient)
	jobsRepo := repository.NewImportJobsRepository(db)
	webhooksRepo := repository.NewWebhooksRepository(db)

	notifier := notify.NewNotifier(webhooksRepo, logger)

	// Background import workers
	pipeline := importer.NewPipeline(jobsRepo, productsRepo, notifier, logger, importer.Config{
		BatchSize:           cfg.ImportBatchSize,
		CheckpointInterval:  cfg.CheckpointInterval,
		CancelCheckInterval: cfg.CancelCheckInterval,
		MaxErrorDetailLines: cfg.MaxErrorDetailLines,
	})
	jobQueue := queue.NewJobQueue(redisClient, logger)
	workers := queue.NewWorkerPool(jobQueue, pipeline, cfg.ImportWorkers, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workers.Start(workerCtx)

	// Handlers
	productsHandler := handlers.NewProductsHandler(productsRepo, notifier, cfg.DefaultPageSize, cfg.MaxPageSize, logger)
	importHandler := handlers.NewImportHandler(jobsRepo, jobQueue, cfg.UploadDir, int(cfg.MaxUploadSizeMB), cfg.DefaultPageSize, cfg.MaxPageSize, logger)
	webhooksHandler := handlers.NewWebhooksHandler(webhooksRepo, notifier, logger)
	healthHandler := handlers.NewHealthHandler(db, redisClient)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	router.MaxMultipartMemory = 32 << 20

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadyCheck)

	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		{
			// Import routes are registered before /:sku so the literal
			// segment wins.
			products.GET("/import", importHandler.ListImports)
			products.GET("/import/template", importHandler.GetImportTemplate)
			products.POST("/import", importHandler.SubmitImport)
			products.GET("/import/:jobId", importHandler.GetImportStatus)
			products.GET("/import/:jobId/stream", importHandler.StreamImportStatus)
			products.POST("/import/:jobId/cancel", importHandler.CancelImport)
			products.POST("/import/:jobId/retry", importHandler.RetryImport)

			products.GET("", productsHandler.ListProducts)
			products.GET("/stats", productsHandler.GetProductStats)
			products.GET("/:sku", productsHandler.GetProduct)
			products.POST("", productsHandler.CreateProduct)
			products.PATCH("/:sku", productsHandler.UpdateProduct)
			products.DELETE("/:sku", productsHandler.DeleteProduct)
			products.DELETE("", productsHandler.DeleteAllProducts)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.GET("", webhooksHandler.ListWebhooks)
			webhooks.GET("/:id", webhooksHandler.GetWebhook)
			webhooks.POST("", webhooksHandler.CreateWebhook)
			webhooks.PATCH("/:id", webhooksHandler.UpdateWebhook)
			webhooks.DELETE("/:id", webhooksHandler.DeleteWebhook)
			webhooks.POST("/:id/test", webhooksHandler.TestWebhook)
		}
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Catalog service starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-quit
	log.Println("Shutting down catalog-service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	// Stop claiming new jobs; in-flight imports run to completion
	stopWorkers()
	workers.Wait()

	log.Println("Catalog service stopped")
}
