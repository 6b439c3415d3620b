package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/14-envy-free-duel/internal"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store/migrations"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔案路徑（YAML）")
		port       = flag.Int("port", 8080, "服務器端口")
		logLevel   = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "text", "日誌格式 (text, json)")
		driver     = flag.String("store", internal.DriverMemory, "儲存後端 (memory, postgres, redis)")
	)
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 命令行參數覆寫配置檔案
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Server.Port = *port
		case "log-level":
			config.Log.Level = *logLevel
		case "log-format":
			config.Log.Format = *logFormat
		case "store":
			config.Store.Driver = *driver
		}
	})
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// 設置日誌
	logger := setupLogger(config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)

	ctx := context.Background()

	// 建立儲存
	st, err := openStore(ctx, config, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", config.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("關閉儲存失敗", "error", err)
		}
	}()

	// 事件發佈
	var publisher internal.Publisher = internal.NopPublisher{}
	if config.NATS.URL != "" {
		natsPublisher, err := internal.NewNATSPublisher(config.NATS.URL, config.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	// 創建房間管理器
	manager := internal.NewManager(st, allocation.NewRandomGenerator(), publisher, config.Game, logger)

	// 清除上次執行留下的房間
	if _, err := manager.SweepOrphans(ctx); err != nil {
		logger.Error("清理孤兒房間失敗", "error", err)
	}

	// 創建 WebSocket Hub 與 HTTP 處理器
	wsHub := internal.NewWebSocketHub(manager, config.WebSocket, config.Game, logger)
	handler := internal.NewHandler(manager, wsHub, logger)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("無嫉妒分配對戰服務器啟動",
			"port", config.Server.Port,
			"store", config.Store.Driver,
			"log_level", config.Log.Level,
			"log_format", config.Log.Format)
		serverErrors <- server.ListenAndServe()
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("收到關閉信號，開始優雅關閉...", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 中斷 WebSocket 連線並等待房間清理
	if err := wsHub.Stop(shutdownCtx); err != nil {
		logger.Error("WebSocket Hub 關閉逾時", "error", err)
	}

	logger.Info("服務器已關閉")
}

// openStore 依配置建立儲存後端
func openStore(ctx context.Context, config *internal.Config, logger *slog.Logger) (store.Store, error) {
	switch config.Store.Driver {
	case internal.DriverPostgres:
		return openPostgres(ctx, config, logger)
	case internal.DriverRedis:
		return openRedis(ctx, config, logger)
	default:
		return store.NewMemory(), nil
	}
}

func openPostgres(ctx context.Context, config *internal.Config, logger *slog.Logger) (store.Store, error) {
	dsn := config.PostgresURL()

	// 執行資料庫遷移
	if err := migrations.Apply(dsn, logger); err != nil {
		return nil, err
	}

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return store.NewPostgres(pool, logger), nil
}

func openRedis(ctx context.Context, config *internal.Config, logger *slog.Logger) (store.Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return store.NewRedis(client, config.Redis.KeyPrefix, logger), nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
