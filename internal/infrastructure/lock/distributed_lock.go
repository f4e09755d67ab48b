package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 是持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本把"比较 value + 删除"做成原子操作
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞获取锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只释放自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// ============================================================================
// 计划槽位锁
// ============================================================================
//
// 同一公司同一年月只能有一个有效计划。新建计划、修改计划年月时，
// 先按目标 (empresa, ano, mes) 加锁，再进入数据库事务做唯一性检查和写入，
// 不同公司、不同月份之间互不影响。数据库唯一索引仍然是最后一道防线。

// PlanSlotLocker 按计划槽位加锁
type PlanSlotLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewPlanSlotLocker(client *redis.Client, ttl time.Duration) *PlanSlotLocker {
	return &PlanSlotLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    40,
	}
}

// PlanSlotKey 计划槽位锁的 key
func PlanSlotKey(companyID int64, year, month int) string {
	return fmt.Sprintf("treasury:plan:slot:%d:%d:%02d", companyID, year, month)
}

// LockSlot 获取槽位锁，返回的 unlock 必须调用
func (l *PlanSlotLocker) LockSlot(ctx context.Context, companyID int64, year, month int) (func(), error) {
	dl := NewDistributedLock(l.client, PlanSlotKey(companyID, year, month), uuid.NewString(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, fmt.Errorf("计划槽位加锁失败: %w", err)
	}

	return func() {
		// 请求 ctx 可能已取消，释放锁不能受其影响
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}, nil
}
