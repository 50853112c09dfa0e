package handler

import (
	"net/http"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"

	"github.com/gin-gonic/gin"
)

type RunHandler struct{}

func NewRunHandler() *RunHandler {
	return &RunHandler{}
}

// GetRun Run与有序步骤。事件流不回放，晚接入的客户端用这里补当前状态
func (h *RunHandler) GetRun(c *gin.Context) {
	id := c.Param("id")

	var run model.Run
	if err := db.DB.WithContext(c.Request.Context()).First(&run, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run不存在"})
		return
	}

	var steps []model.RunStep
	if err := db.DB.WithContext(c.Request.Context()).
		Where("run_id = ?", id).
		Order("step_index ASC").
		Find(&steps).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "steps": steps})
}
