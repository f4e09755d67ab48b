package service

import (
	"context"

	"treasury/internal/model"
)

// Directory 公司、预算、用户的只读查询，实现见 repository.DirectoryRepository
// GetBudget / GetUser 查不到时返回 nil, nil
type Directory interface {
	CompanyExists(ctx context.Context, id int64) (bool, error)
	GetBudget(ctx context.Context, id int64) (*model.Budget, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// SlotLocker 按 (empresa, ano, mes) 串行化计划的新建和改期，实现见 lock.PlanSlotLocker
type SlotLocker interface {
	LockSlot(ctx context.Context, companyID int64, year, month int) (func(), error)
}

// EntrySeeder 导入预算时根据预算生成流入记录草稿
// 在导入事务内被调用，只能生成数据，不能访问数据库
type EntrySeeder interface {
	SeedFromBudget(ctx context.Context, plan *model.Plan, budget *model.Budget) ([]CreateEntryRequest, error)
}

type noopLocker struct{}

func (noopLocker) LockSlot(context.Context, int64, int, int) (func(), error) {
	return func() {}, nil
}
