package job

import (
	"context"
	"sync"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher 消息投递端，mq.Producer 实现了该接口
type Publisher interface {
	SendMessage(topic, key, value string, headers map[string]string) error
}

// OutboxSender 定时扫描 outbox 表，把计划事件投递到 Kafka
// 投递成功标记 SENT，失败累计重试次数，超过上限标记 FAILED
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		logger:     logger.Named("outbox"),
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval(),
		batchSize:  cfg.Business.OutboxBatchSize,
		maxRetry:   cfg.Business.OutboxMaxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// processPendingMessages 处理一批待发送消息，返回成功投递的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询待发送消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	headers := map[string]string{"event_type": msg.EventType}
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload, headers)

	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			// 状态没更新成功会被重复投递，消费端按 event_no 去重
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return true
		}
		s.logger.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
			zap.String("event_type", msg.EventType),
		)
		return true
	}

	s.logger.Warn("消息发送失败",
		zap.Int64("id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err),
	)

	giveUp, recordErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry)
	if recordErr != nil {
		s.logger.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(recordErr))
		return false
	}
	if giveUp {
		s.logger.Error("消息超过最大重试次数，标记为失败",
			zap.Int64("id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.Int("max_retry", s.maxRetry),
		)
	}
	return false
}
