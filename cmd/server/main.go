package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wariapp/wari/internal/api/directory"
	"github.com/wariapp/wari/internal/api/handlers"
	"github.com/wariapp/wari/internal/api/tripsvc"
	"github.com/wariapp/wari/internal/config"
	"github.com/wariapp/wari/internal/models"
	"github.com/wariapp/wari/internal/netwatch"
	"github.com/wariapp/wari/internal/repository"
	"github.com/wariapp/wari/internal/service"
	"github.com/wariapp/wari/internal/session"
	"github.com/wariapp/wari/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Wari core", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 数据库（可选）
	var tripLog *repository.TripLogRepository
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")

		tripLog = repository.NewTripLogRepository(db)
	} else {
		logger.Info("DATABASE_URL not set, trip log disabled")
	}

	// 外部服务客户端
	tripClient := tripsvc.NewClient(cfg.TripServiceURL, cfg.TripServiceKey)
	dirClient := directory.NewClient(cfg.DirectoryURL)

	// UI Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 控制器。两个角色共享同一条信道连接，快照同时分发给两边。
	var passengerSvc *service.PassengerService
	var driverSvc *service.DriverService

	realtime := tripsvc.NewRealtimeClient(logger, cfg.RealtimeURL, tripsvc.RealtimeCallbacks{
		OnTrip: func(trip *models.Trip) {
			passengerSvc.HandleSnapshot(trip)
			driverSvc.HandleSnapshot(trip)
		},
		OnConnect: func() {
			logger.Info("Realtime channel up")
		},
		OnDisconnect: func() {
			logger.Warn("Realtime channel down")
		},
	})

	passengerSvc = service.NewPassengerService(cfg, logger, tripClient, realtime, tripLog)
	sessionStore := session.NewStore(cfg.SessionFile)
	driverSvc = service.NewDriverService(cfg, logger, tripClient, dirClient, realtime, sessionStore, wsHub.BroadcastToast)

	// 链路质量来源：平台有 Network Information API 时走 UI 上报，
	// 否则降级为 HEAD 探测
	var reported *netwatch.ReportedMonitor
	var monitor netwatch.QualityMonitor
	if cfg.UseQualityProbe {
		probe := netwatch.NewProbeMonitor(logger, tripClient)
		go probe.Run(ctx)
		monitor = probe
	} else {
		reported = netwatch.NewReportedMonitor()
		monitor = reported
	}

	// 连接恢复监督器
	supervisor := netwatch.New(
		logger,
		passengerSvc.ForceReconnect,
		passengerSvc.SilentSync,
		realtime.IsConnected,
		wsHub.BroadcastWarning,
		monitor,
	)
	go supervisor.Run(ctx)

	// UI 事件进监督器，状态更新出 Hub
	wsHub.SetEventHandlers(
		func(kind string) {
			supervisor.Notify(netwatch.Event{Kind: kind})
		},
		func(effectiveType string, rtt time.Duration) {
			if reported != nil {
				reported.Report(netwatch.Sample{EffectiveType: effectiveType, RTT: rtt})
			}
		},
	)
	wsHub.SetInitDataProvider(func() interface{} {
		return map[string]interface{}{
			"status":  passengerSvc.Status(),
			"phase":   passengerSvc.Phase(),
			"session": driverSvc.CurrentSession(),
		}
	})

	go func() {
		for status := range passengerSvc.Subscribe() {
			wsHub.BroadcastStatus(status)
		}
	}()

	// 启动信道并恢复司机会话
	realtime.Connect()
	if err := driverSvc.Restore(ctx); err != nil {
		logger.Warn("Driver session restore failed", zap.Error(err))
	}

	// HTTP 处理器
	handler := handlers.NewHandler(logger, passengerSvc, driverSvc, dirClient, tripLog, supervisor, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	realtime.Disconnect()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
