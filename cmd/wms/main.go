package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/config"
	"github.com/bitfantasy/nimo-wms/internal/middleware"
	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/bitfantasy/nimo-wms/internal/shared/storage"
	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/handler"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-wms service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database, cfg.Server.Mode)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&entity.PurchaseOrder{},
		&entity.POItem{},
		&entity.SupplyRecord{},
		&entity.SupplyRecordItem{},
		&entity.ShareLink{},
		&entity.ActivityLog{},
	); err != nil {
		zapLogger.Fatal("AutoMigrate SRM tables failed", zap.Error(err))
	}

	cache := initCache(cfg.Redis, zapLogger)

	// 仓库与服务
	repos := repository.NewRepositories(db)
	repos.ActivityLog.WithLogger(zapLogger.Named("activity"))
	hub := sse.NewHub(zapLogger.Named("sse"))

	ledger := service.NewQuantityLedger(repos.PO, repos.SupplyRecord,
		service.WithLedgerCache(cache, cfg.Supply.LedgerCacheTTL),
		service.WithLedgerLogger(zapLogger.Named("ledger")),
	)

	statsOpts := []service.StatisticsOption{
		service.WithStatisticsDeduper(service.NewFlightDeduper()),
		service.WithStatisticsLogger(zapLogger.Named("statistics")),
	}
	if cfg.Statistics.CacheEnabled {
		statsOpts = append(statsOpts, service.WithStatisticsCache(cache))
	}
	stats := service.NewStatisticsCalculator(repos.Statistics, service.StatisticsConfig{
		MaxProductStatuses: cfg.Statistics.MaxProductStatuses,
		Parallel:           cfg.Statistics.Parallel,
		CacheEnabled:       cfg.Statistics.CacheEnabled,
		CacheTTL:           cfg.Statistics.CacheTTL,
	}, statsOpts...)

	shareSvc := service.NewShareService(repos.ShareLink, repos.PO, service.ShareConfig{
		BaseURL:             cfg.Share.BaseURL,
		DefaultExpiresHours: cfg.Share.DefaultExpiresHours,
		MaxExpiresHours:     cfg.Share.MaxExpiresHours,
		ExtractCodeLength:   cfg.Share.ExtractCodeLength,
	},
		service.WithShareActivityLogger(repos.ActivityLog),
		service.WithShareLogger(zapLogger.Named("share")),
	)

	supplyOpts := []service.SupplyOption{
		service.WithSupplyActivityLogger(repos.ActivityLog),
		service.WithSupplyEvents(hub),
		service.WithSupplyLogger(zapLogger.Named("supply")),
	}
	if archive := initExportArchive(cfg.MinIO, zapLogger); archive != nil {
		supplyOpts = append(supplyOpts, service.WithSupplyExportArchive(archive))
	}
	supplySvc := service.NewSupplyService(shareSvc, ledger, repos.SupplyRecord, stats, supplyOpts...)

	procurementSvc := service.NewProcurementService(repos.PO, stats, repos.ActivityLog, zapLogger.Named("procurement"))

	handlers := handler.NewHandlers(procurementSvc, shareSvc, supplySvc, hub)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/srm/events"})))

	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE 长连接
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, mode string) (*gorm.DB, error) {
	logLevel := logger.Warn
	if mode == "debug" {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// initCache Redis 不可用时退回进程内缓存
func initCache(cfg config.RedisConfig, zapLogger *zap.Logger) service.Cache {
	if !cfg.Enabled {
		return service.NewMemoryCache()
	}
	rdb := initRedis(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
		rdb.Close()
		return service.NewMemoryCache()
	}
	return service.NewRedisCache(rdb, cfg.Prefix)
}

// initExportArchive MinIO 不可用时关闭导出归档，不影响启动
func initExportArchive(cfg config.MinIOConfig, zapLogger *zap.Logger) *storage.MinioArchive {
	archive, err := storage.NewMinioArchive(cfg)
	if err != nil {
		zapLogger.Warn("MinIO init failed, export archive disabled", zap.Error(err))
		return nil
	}
	if archive == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := archive.EnsureBucket(ctx); err != nil {
		zapLogger.Warn("MinIO bucket unavailable, export archive disabled", zap.Error(err))
		return nil
	}
	zapLogger.Info("Export archive enabled", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return archive
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	v1 := r.Group("/api/v1")
	auth := v1.Group("/srm", middleware.JWTAuth(cfg.JWT.Secret))
	public := v1.Group("/public")
	h.RegisterRoutes(auth, public)
}
