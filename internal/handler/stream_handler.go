package handler

import (
	"io"
	"net/http"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"

	"github.com/gin-gonic/gin"
)

// StreamHandler 流式网关：一条长连接对应一个Run的事件channel
type StreamHandler struct {
	bus bus.Bus
}

func NewStreamHandler(b bus.Bus) *StreamHandler {
	return &StreamHandler{bus: b}
}

// Stream SSE推送：先发connected帧，之后把run:<id>上发布的每个事件
// 按 event:<type>\ndata:<json>\n\n 逐帧转发。总线不回放，连接前的
// 事件已经错过，客户端应另行GET /api/runs/:id补状态
func (h *StreamHandler) Stream(c *gin.Context) {
	runID := c.Param("runId")

	var run model.Run
	if err := db.DB.WithContext(c.Request.Context()).First(&run, "id = ?", runID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run不存在"})
		return
	}

	events, cancel, err := h.bus.Subscribe(bus.RunChannel(runID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent(bus.EventConnected, gin.H{"run_id": runID})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Data)
			return true
		}
	})
}
