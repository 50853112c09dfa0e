package router

import (
	"github.com/Divi1545/authority13/internal/handler"
	"github.com/Divi1545/authority13/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svc *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 初始化handlers
	taskHandler := handler.NewTaskHandler(svc.TaskService)
	runHandler := handler.NewRunHandler()
	approvalHandler := handler.NewApprovalHandler(svc.ApprovalService)
	streamHandler := handler.NewStreamHandler(svc.Bus)

	// API路由
	api := r.Group("/api")
	{
		// 任务相关
		tasks := api.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
		}

		// 执行记录
		runs := api.Group("/runs")
		{
			runs.GET("/:id", runHandler.GetRun)
		}

		// 审批相关
		approvals := api.Group("/approvals")
		{
			approvals.GET("", approvalHandler.ListApprovals)
			approvals.POST("/:id/resolve", approvalHandler.ResolveApproval)
		}

		// SSE事件流
		api.GET("/stream/:runId", streamHandler.Stream)

		// 健康检查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})
	}

	return r
}
