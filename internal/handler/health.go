package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewHealthHandler(db *gorm.DB, log *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, log: log}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "helpdesk-service",
		"time":    time.Now().Unix(),
	})
}

// Ready reports whether the record store answers.
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := database.Ping(h.db); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
