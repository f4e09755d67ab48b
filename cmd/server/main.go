package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"treasury/internal/config"
	"treasury/internal/handler"
	"treasury/internal/infrastructure/cache"
	"treasury/internal/infrastructure/database"
	"treasury/internal/infrastructure/logger"
	"treasury/internal/infrastructure/mq"
	"treasury/internal/job"
	"treasury/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "ID 生成器机器号")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 初始化 ID 生成器
	idgen.Init(*workerID)

	// 初始化数据库
	db, err := database.Init(&cfg.Database)
	if err != nil {
		log.Fatal("初始化数据库失败", zap.Error(err))
	}

	// 初始化 Redis，未启用时计划槽位只依赖数据库唯一索引
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			log.Fatal("初始化 Redis 失败", zap.Error(err))
		}
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Kafka 并启动消息转发任务，未启用时事件保留在 outbox 表中
	var outboxSender *job.OutboxSender
	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			log.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		defer producer.Close()

		outboxSender = job.NewOutboxSender(db, producer, cfg, log)
		go outboxSender.Start(ctx)
	} else {
		log.Warn("Kafka 未启用，计划事件不会被转发")
	}

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 停止后台任务
	cancel()
	if outboxSender != nil {
		outboxSender.Stop()
	}

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Info("服务已关闭")
}
