package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/api/directory"
	"github.com/wariapp/wari/internal/netwatch"
	"github.com/wariapp/wari/internal/repository"
	"github.com/wariapp/wari/internal/service"
	"github.com/wariapp/wari/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	passenger  *service.PassengerService
	driver     *service.DriverService
	directory  *directory.Client
	tripLog    *repository.TripLogRepository // 可为 nil
	supervisor *netwatch.Supervisor
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	passenger *service.PassengerService,
	driver *service.DriverService,
	dir *directory.Client,
	tripLog *repository.TripLogRepository,
	supervisor *netwatch.Supervisor,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		passenger:  passenger,
		driver:     driver,
		directory:  dir,
		tripLog:    tripLog,
		supervisor: supervisor,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 乘客
		api.POST("/passenger/scan", h.Scan)
		api.POST("/passenger/destination", h.SelectDestination)
		api.POST("/passenger/start", h.StartTracking)
		api.POST("/passenger/stop", h.StopTracking)
		api.POST("/passenger/share", h.ShareTracking)
		api.POST("/passenger/reset", h.ResetTracking)
		api.GET("/passenger/status", h.TrackingStatus)

		// 司机
		api.POST("/driver/login", h.DriverLogin)
		api.POST("/driver/logout", h.DriverLogout)
		api.GET("/driver/session", h.DriverSession)
		api.GET("/driver/qr", h.DriverQR)

		// 行程诊断日志
		api.GET("/trips/:id/snapshots", h.TripSnapshots)
		api.GET("/trips/:id/transitions", h.TripTransitions)

		// 目录透传
		api.GET("/drivers", h.ListDrivers)
		api.GET("/sponsors", h.ListSponsors)

		// 连接事件（无 websocket 时的降级上报口）
		api.POST("/events", h.ReportEvent)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket 升级 UI 连接并挂到 Hub
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}

// ReportEvent 接收 UI 上报的连接事件
func (h *Handler) ReportEvent(c *gin.Context) {
	var ev netwatch.Event
	if err := c.BindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.supervisor.Notify(ev)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
