package service

import (
	"context"
	"errors"
	"fmt"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxService 运维用：查看投递失败的计划事件并人工重新投递
type OutboxService struct {
	cfg        *config.Config
	logger     *zap.Logger
	outboxRepo *repository.OutboxRepository
}

func NewOutboxService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *OutboxService {
	return &OutboxService{
		cfg:        cfg,
		logger:     logger,
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// ListFailedEvents limit 按分页配置归一化
func (s *OutboxService) ListFailedEvents(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	_, limit = normalizePage(s.cfg, 1, limit)

	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("查询失败事件失败: %w", err)
	}
	return messages, nil
}

// RequeueEvent 放回 PENDING，下一轮由 OutboxSender 重新投递
func (s *OutboxService) RequeueEvent(ctx context.Context, id int64, actorID int64) error {
	if err := s.outboxRepo.Requeue(ctx, id); err != nil {
		if errors.Is(err, repository.ErrOutboxNotFailed) {
			return ErrEventNotRequeueable
		}
		return fmt.Errorf("重新投递事件失败: %w", err)
	}

	s.logger.Info("失败事件已放回待发送队列",
		zap.Int64("event_id", id),
		zap.Int64("actor_id", actorID),
	)
	return nil
}
