package handler

import (
	"net/http"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/service"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTask 创建任务并入队执行
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, jobID, err := h.tasks.CreateTask(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task":   task,
		"job_id": jobID,
	})
}

// ListTasks workspace内最近50条任务
func (h *TaskHandler) ListTasks(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少workspace_id"})
		return
	}

	var tasks []model.Task
	if err := db.DB.WithContext(c.Request.Context()).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(50).
		Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask 单个任务，附最新计划与历史Run
func (h *TaskHandler) GetTask(c *gin.Context) {
	id := c.Param("id")

	var task model.Task
	if err := db.DB.WithContext(c.Request.Context()).First(&task, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}

	var plan model.TaskPlan
	hasPlan := db.DB.WithContext(c.Request.Context()).
		Where("task_id = ?", id).
		Order("created_at DESC").
		First(&plan).Error == nil

	var runs []model.Run
	db.DB.WithContext(c.Request.Context()).
		Where("task_id = ?", id).
		Order("created_at DESC").
		Find(&runs)

	resp := gin.H{"task": task, "runs": runs}
	if hasPlan {
		resp["plan"] = plan
	}
	c.JSON(http.StatusOK, resp)
}
