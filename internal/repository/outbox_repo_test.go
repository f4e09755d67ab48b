package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"treasury/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOutboxRepository_EnqueueInsideTransaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.Enqueue(ctx, tx, "treasury.plan.events", model.EventPlanCreated, "plan-1", map[string]interface{}{"id": 1})
	})
	require.NoError(t, err)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, repo.Enqueue(ctx, tx, "treasury.plan.events", model.EventPlanDeleted, "", map[string]interface{}{"id": 2}))
		return assert.AnError
	})

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "plan-1", pending[0].MessageKey)
	assert.Equal(t, model.EventPlanCreated, pending[0].EventType)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(pending[0].Payload), &body))
	assert.EqualValues(t, 1, body["id"])
}

func TestOutboxRepository_EnqueueGeneratesKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, "t", model.EventPlanCreated, "", struct{}{}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Regexp(t, `^EVT\d{22}$`, pending[0].MessageKey)
}

func TestOutboxRepository_RetryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, "t", model.EventPlanCreated, "k", struct{}{}))
	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	msg := pending[0]

	giveUp, err := repo.RecordFailure(ctx, msg, 2)
	require.NoError(t, err)
	assert.False(t, giveUp)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	giveUp, err = repo.RecordFailure(ctx, pending[0], 2)
	require.NoError(t, err)
	assert.True(t, giveUp)

	failed, err := repo.GetFailedMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)

	require.NoError(t, repo.Requeue(ctx, failed[0].ID))
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)

	// 已回到 PENDING 的消息不能重复放回
	assert.True(t, errors.Is(repo.Requeue(ctx, pending[0].ID), ErrOutboxNotFailed))
	assert.True(t, errors.Is(repo.Requeue(ctx, 9999), ErrOutboxNotFailed))

	require.NoError(t, repo.MarkSent(ctx, pending[0].ID))
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
