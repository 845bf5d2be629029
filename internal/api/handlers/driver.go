package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/service"
)

// DriverLogin 司机登录：车牌 + IMEI 后四位
func (h *Handler) DriverLogin(c *gin.Context) {
	var req struct {
		Plate     string `json:"plate"`
		IMEILast4 string `json:"imei_last4"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	trip, err := h.driver.Login(c.Request.Context(), req.Plate, req.IMEILast4)
	if err != nil {
		h.driverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trip":    trip,
		"session": h.driver.CurrentSession(),
	})
}

// DriverLogout 司机登出
func (h *Handler) DriverLogout(c *gin.Context) {
	if err := h.driver.Logout(c.Request.Context()); err != nil {
		h.logger.Error("Driver logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo cerrar sesión"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DriverSession 当前会话
func (h *Handler) DriverSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.driver.CurrentSession())
}

// DriverQR 当前行程的 QR 载荷
func (h *Handler) DriverQR(c *gin.Context) {
	payload, err := h.driver.QRPayload()
	if err != nil {
		h.driverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payload": payload})
}

// ListDrivers 司机列表透传
func (h *Handler) ListDrivers(c *gin.Context) {
	drivers, err := h.directory.ListDrivers(c.Request.Context())
	if err != nil {
		h.logger.Error("List drivers failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "No se pudo obtener la lista de conductores"})
		return
	}

	c.JSON(http.StatusOK, drivers)
}

// ListSponsors 赞助商列表透传
func (h *Handler) ListSponsors(c *gin.Context) {
	sponsors, err := h.directory.ListSponsors(c.Request.Context())
	if err != nil {
		h.logger.Error("List sponsors failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "No se pudo obtener la lista de auspiciadores"})
		return
	}

	c.JSON(http.StatusOK, sponsors)
}

// driverError 把司机侧业务错误换成用户可见的提示
func (h *Handler) driverError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehículo no encontrado"})
	case errors.Is(err, service.ErrIMEIMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Los dígitos del IMEI no coinciden"})
	case errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No hay sesión activa"})
	default:
		h.logger.Error("Driver operation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Ocurrió un error, intenta de nuevo"})
	}
}
