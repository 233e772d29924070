package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogapp "github.com/wyfcoding/pricecatalog/internal/catalog/application"
	catalogdomain "github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/internal/catalog/infrastructure/messaging"
	catalogmysql "github.com/wyfcoding/pricecatalog/internal/catalog/infrastructure/persistence/mysql"
	cataloghttp "github.com/wyfcoding/pricecatalog/internal/catalog/interfaces/http"
	ingestionapp "github.com/wyfcoding/pricecatalog/internal/ingestion/application"
	ingestiondomain "github.com/wyfcoding/pricecatalog/internal/ingestion/domain"
	ingestionmysql "github.com/wyfcoding/pricecatalog/internal/ingestion/infrastructure/persistence/mysql"
	ingestionhttp "github.com/wyfcoding/pricecatalog/internal/ingestion/interfaces/http"
	pricingdomain "github.com/wyfcoding/pricecatalog/internal/pricing/domain"
	"github.com/wyfcoding/pricecatalog/pkg/cache"
	"github.com/wyfcoding/pricecatalog/pkg/config"
	"github.com/wyfcoding/pricecatalog/pkg/db"
	"github.com/wyfcoding/pricecatalog/pkg/logger"
	"github.com/wyfcoding/pricecatalog/pkg/metrics"
	"github.com/wyfcoding/pricecatalog/pkg/mq"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/pricecatalog/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	ctx := context.Background()

	// 3. Metrics
	m := metrics.New(cfg.ServiceName)
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 4. Database
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to connect database", "error", err)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		err := database.AutoMigrate(
			&catalogdomain.CatalogProduct{},
			&catalogdomain.HistoryEntry{},
			&ingestiondomain.UploadJob{},
			&catalogmysql.SearchDocument{},
		)
		if err != nil {
			logger.Error(ctx, "Failed to migrate database", "error", err)
		}
	}

	// 5. Optional infrastructure: Redis progress mirror, Kafka events
	var mirror ingestionapp.ProgressMirror
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to connect redis", "error", err)
		}
		defer redisCache.Close()
		mirror = redisCache
	}

	var publisher catalogdomain.EventPublisher
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to create kafka producer", "error", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaPublisher(producer)
	}

	// 6. Pricing policy
	policy, err := buildPolicy(cfg.Pricing)
	if err != nil {
		logger.Fatal(ctx, "Invalid pricing config", "error", err)
	}

	// 7. Repository & Application
	indexer := catalogmysql.NewSearchIndex(database, cfg.Search.IncludeRemoved)
	productRepo := catalogmysql.NewProductRepository(database, indexer)
	historyRepo := catalogmysql.NewHistoryRepository(database)
	jobRepo := ingestionmysql.NewUploadJobRepository(database)

	queryService := catalogapp.NewCatalogQueryService(productRepo, historyRepo, indexer, m, cfg.Search.PageSize)
	ingestionService := ingestionapp.NewIngestionService(
		jobRepo, productRepo, historyRepo, policy, publisher, mirror, m,
		ingestionapp.Options{
			ProgressFlushRows: cfg.Ingestion.ProgressFlushRows,
			DefaultCurrency:   cfg.Ingestion.DefaultCurrency,
		},
	)

	// 8. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	cataloghttp.NewCatalogHandler(queryService).RegisterRoutes(router)
	ingestionhttp.NewIngestionHandler(ingestionService, queryService).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. Start
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(ctx, "Shutting down servers")
		case <-gctx.Done():
			logger.Info(ctx, "Context cancelled, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Server exited with error", "error", err)
		os.Exit(1)
	}
}

// buildPolicy 把配置的阶梯字符串解析成舍入策略；未配置阶梯时用缺省阶梯
func buildPolicy(cfg config.PricingConfig) (*pricingdomain.Policy, error) {
	mode := pricingdomain.Mode(cfg.Mode)
	if len(cfg.Steps) == 0 {
		return pricingdomain.NewPolicy(mode, pricingdomain.DefaultSteps())
	}

	rules := make([]pricingdomain.StepRule, 0, len(cfg.Steps))
	for i, s := range cfg.Steps {
		var rule pricingdomain.StepRule
		if s.Below != "" {
			below, err := decimal.NewFromString(s.Below)
			if err != nil {
				return nil, fmt.Errorf("invalid pricing.steps[%d].below %q: %w", i, s.Below, err)
			}
			rule.Below = below
		}
		step, err := decimal.NewFromString(s.Step)
		if err != nil {
			return nil, fmt.Errorf("invalid pricing.steps[%d].step %q: %w", i, s.Step, err)
		}
		rule.Step = step
		rules = append(rules, rule)
	}
	return pricingdomain.NewPolicy(mode, rules)
}
