package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"catalog-service/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// Server
	Port        string
	Environment string

	// Uploads
	UploadDir       string
	MaxUploadSizeMB int64

	// Import pipeline tunables. One set of cadences serves every job.
	ImportWorkers       int
	ImportBatchSize     int // rows buffered between store flushes
	CheckpointInterval  int // rows between persisted progress checkpoints
	CancelCheckInterval int // rows between persisted-status cancellation polls
	MaxErrorDetailLines int // per-row error lines kept before truncation

	// Pagination
	DefaultPageSize int
	MaxPageSize     int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	maxUploadMB, _ := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE_MB", "1500"), 10, 64)
	importWorkers, _ := strconv.Atoi(getEnv("IMPORT_WORKERS", "2"))
	batchSize, _ := strconv.Atoi(getEnv("IMPORT_BATCH_SIZE", "2000"))
	checkpointInterval, _ := strconv.Atoi(getEnv("IMPORT_CHECKPOINT_INTERVAL", "1000"))
	cancelCheckInterval, _ := strconv.Atoi(getEnv("IMPORT_CANCEL_CHECK_INTERVAL", "1000"))
	maxErrorLines, _ := strconv.Atoi(getEnv("IMPORT_MAX_ERROR_LINES", "20"))
	defaultPageSize, _ := strconv.Atoi(getEnv("DEFAULT_PAGE_SIZE", "20"))
	maxPageSize, _ := strconv.Atoi(getEnv("MAX_PAGE_SIZE", "100"))

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "catalog_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		Port:        getEnv("PORT", "8088"),
		Environment: getEnv("ENVIRONMENT", "development"),

		UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadSizeMB: maxUploadMB,

		ImportWorkers:       importWorkers,
		ImportBatchSize:     batchSize,
		CheckpointInterval:  checkpointInterval,
		CancelCheckInterval: cancelCheckInterval,
		MaxErrorDetailLines: maxErrorLines,

		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ImportJob{},
		&models.Webhook{},
	); err != nil {
		return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
	}

	// Case-folded SKU uniqueness lives in the database, not in application
	// logic. GORM tags cannot express a functional index, so it is created
	// directly.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_products_sku_lower ON products (LOWER(sku))",
	).Error; err != nil {
		return nil, fmt.Errorf("failed to create case-folded sku index: %w", err)
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
