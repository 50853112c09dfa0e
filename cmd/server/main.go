package main

import (
	"fmt"
	"log"
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/queue"
	"github.com/Divi1545/authority13/internal/router"
	"github.com/Divi1545/authority13/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// 加载.env（不存在则忽略）
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	// 事件总线与任务队列：nats.url为空时使用进程内实现
	var (
		eventBus bus.Bus
		jobQueue queue.Queue
	)
	backoff := time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond
	if cfg.NATS.URL == "" {
		eventBus = bus.NewMemoryBus()
		jobQueue = queue.NewMemoryQueue(cfg.Queue.TaskMaxDeliver, cfg.Queue.ApprovalMaxDeliver, backoff, cfg.Queue.Concurrency)
	} else {
		nb, err := bus.NewNATSBus(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("连接NATS失败: %v", err)
		}
		eventBus = nb
		nq, err := queue.NewNATSQueue(cfg.NATS.URL, cfg.Queue.TaskMaxDeliver, cfg.Queue.ApprovalMaxDeliver, backoff)
		if err != nil {
			log.Fatalf("初始化JetStream失败: %v", err)
		}
		jobQueue = nq
	}

	// 初始化服务
	svcCtx := service.NewServiceContext(cfg, eventBus, jobQueue, nil)

	// 进程内队列没有跨进程消费者，worker跟API跑在同一进程里
	if cfg.NATS.URL == "" {
		worker := service.NewWorker(svcCtx)
		if err := worker.Start(); err != nil {
			log.Fatalf("启动worker失败: %v", err)
		}
		log.Println("进程内worker已启动")
	}

	// 初始化路由
	r := router.SetupRouter(svcCtx)

	// 启动服务
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("服务启动在 %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("启动服务失败: %v", err)
	}
}
