package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/queue"
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

	// 独立worker消费的是JetStream，进程内队列只在server进程里有意义
	if cfg.NATS.URL == "" {
		log.Fatal("独立worker需要配置nats.url（进程内模式下worker随server一起启动）")
	}

	// 初始化数据库
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	eventBus, err := bus.NewNATSBus(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("连接NATS失败: %v", err)
	}
	backoff := time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond
	jobQueue, err := queue.NewNATSQueue(cfg.NATS.URL, cfg.Queue.TaskMaxDeliver, cfg.Queue.ApprovalMaxDeliver, backoff)
	if err != nil {
		log.Fatalf("初始化JetStream失败: %v", err)
	}

	svcCtx := service.NewServiceContext(cfg, eventBus, jobQueue, nil)

	worker := service.NewWorker(svcCtx)
	if err := worker.Start(); err != nil {
		log.Fatalf("启动worker失败: %v", err)
	}
	log.Println("worker已启动，等待任务...")

	// SIGTERM/SIGINT优雅退出：停止拉取新消息后再断开
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("收到退出信号，正在关闭...")
	jobQueue.Close()
	eventBus.Close()
	log.Println("worker已退出")
}
