package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/models"
	"github.com/wariapp/wari/internal/service"
)

// Scan 处理扫码结果
func (h *Handler) Scan(c *gin.Context) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	trip, err := h.passenger.Scan(c.Request.Context(), req.Payload)
	if err != nil {
		h.passengerError(c, err, "No se pudo leer el código QR")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trip":   trip,
		"status": h.passenger.Status(),
	})
}

// SelectDestination 记录目的地
func (h *Handler) SelectDestination(c *gin.Context) {
	var dest models.Destination
	if err := c.BindJSON(&dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.passenger.SelectDestination(dest); err != nil {
		h.passengerError(c, err, "Selecciona un destino válido")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartTracking 开始追踪
func (h *Handler) StartTracking(c *gin.Context) {
	redirect, err := h.passenger.StartTracking(c.Request.Context())
	if err != nil {
		h.passengerError(c, err, "No se pudo iniciar el viaje")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redirect": redirect,
		"status":   h.passenger.Status(),
	})
}

// StopTracking 停止追踪
func (h *Handler) StopTracking(c *gin.Context) {
	if err := h.passenger.StopTracking(c.Request.Context()); err != nil {
		h.passengerError(c, err, "No se pudo detener el viaje")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": h.passenger.Status()})
}

// ShareTracking 组装分享内容
func (h *Handler) ShareTracking(c *gin.Context) {
	msg, err := h.passenger.ShareTracking(c.Request.Context())
	if err != nil {
		h.passengerError(c, err, "No hay viaje para compartir")
		return
	}

	c.JSON(http.StatusOK, msg)
}

// ResetTracking 回到扫码阶段
func (h *Handler) ResetTracking(c *gin.Context) {
	h.passenger.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TrackingStatus 当前派生状态
func (h *Handler) TrackingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"phase":  h.passenger.Phase(),
		"status": h.passenger.Status(),
		"trip":   h.passenger.Identifier(),
	})
}

// TripSnapshots 行程快照日志
func (h *Handler) TripSnapshots(c *gin.Context) {
	if h.tripLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip log disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.tripLog.RecentSnapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("Failed to query snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	c.JSON(http.StatusOK, records)
}

// TripTransitions 阶段转换日志
func (h *Handler) TripTransitions(c *gin.Context) {
	if h.tripLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip log disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.tripLog.RecentTransitions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("Failed to query transitions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	c.JSON(http.StatusOK, records)
}

// passengerError 把业务错误换成用户可见的提示
func (h *Handler) passengerError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, service.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Error("Passenger operation failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": fallback})
}
