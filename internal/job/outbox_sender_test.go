package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"treasury/internal/config"
	"treasury/internal/infrastructure/database"
	"treasury/internal/infrastructure/mq"
	"treasury/internal/model"
	"treasury/internal/repository"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupSender(t *testing.T, maxRetry int) (*gorm.DB, *mocks.SyncProducer, *OutboxSender) {
	t.Helper()

	db, err := database.Init(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{Business: config.BusinessConfig{
		OutboxIntervalMs: 10,
		OutboxBatchSize:  10,
		OutboxMaxRetry:   maxRetry,
	}}

	sp := mocks.NewSyncProducer(t, nil)
	producer := mq.NewProducer(sp)
	t.Cleanup(func() { producer.Close() })

	return db, sp, NewOutboxSender(db, producer, cfg, zap.NewNop())
}

func enqueue(t *testing.T, db *gorm.DB, eventType, key string) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, repo.Enqueue(context.Background(), nil, "treasury.plan.events", eventType, key, map[string]string{"k": key}))
}

func statuses(t *testing.T, db *gorm.DB) map[string]model.OutboxMessage {
	t.Helper()
	var messages []model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	out := make(map[string]model.OutboxMessage, len(messages))
	for _, m := range messages {
		out[m.MessageKey] = m
	}
	return out
}

func TestOutboxSender_PublishesPending(t *testing.T) {
	db, sp, sender := setupSender(t, 3)

	enqueue(t, db, model.EventPlanCreated, "1")
	enqueue(t, db, model.EventPlanStatusChanged, "1")

	var seen []string
	checker := func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "treasury.plan.events" {
			return errors.New("unexpected topic")
		}
		for _, h := range msg.Headers {
			if string(h.Key) == "event_type" {
				seen = append(seen, string(h.Value))
			}
		}
		return nil
	}
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)

	sent := sender.processPendingMessages(context.Background())
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{model.EventPlanCreated, model.EventPlanStatusChanged}, seen)

	for _, m := range statuses(t, db) {
		assert.Equal(t, model.OutboxStatusSent, m.Status)
	}
	assert.Zero(t, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_RetriesThenFails(t *testing.T) {
	db, sp, sender := setupSender(t, 2)

	enqueue(t, db, model.EventPlanDeleted, "9")
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	assert.Zero(t, sender.processPendingMessages(context.Background()))
	msg := statuses(t, db)["9"]
	assert.Equal(t, model.OutboxStatusPending, msg.Status)
	assert.Equal(t, 1, msg.RetryCount)

	assert.Zero(t, sender.processPendingMessages(context.Background()))
	msg = statuses(t, db)["9"]
	assert.Equal(t, model.OutboxStatusFailed, msg.Status)
	assert.Equal(t, 2, msg.RetryCount)

	// FAILED 消息不再被扫描
	assert.Zero(t, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_StartAndStop(t *testing.T) {
	db, sp, sender := setupSender(t, 3)

	enqueue(t, db, model.EventPlanCreated, "5")
	sp.ExpectSendMessageAndSucceed()

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		var msg model.OutboxMessage
		if err := db.Where("message_key = ?", "5").First(&msg).Error; err != nil {
			return false
		}
		return msg.Status == model.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	sender.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestOutboxSender_StopsOnContextCancel(t *testing.T) {
	_, _, sender := setupSender(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}
