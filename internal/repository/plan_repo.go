package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"treasury/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPlanNotFound      = errors.New("资金计划不存在")
	ErrPlanSlotTaken     = errors.New("该公司该年月已存在资金计划")
	ErrPlanStatusChanged = errors.New("资金计划状态已被修改")
)

// PlanFilter 计划列表查询条件，零值表示不过滤
type PlanFilter struct {
	CompanyID int64
	Year      int
	Month     int
	Status    model.PlanStatus
	Page      int
	PageSize  int
}

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// Create 插入计划，唯一索引冲突转换为 ErrPlanSlotTaken
func (r *PlanRepository) Create(ctx context.Context, tx *gorm.DB, plan *model.Plan) error {
	if plan.SlotActive == nil {
		plan.SlotActive = model.SlotTaken()
	}
	err := r.conn(ctx, tx).Create(plan).Error
	if isDuplicateKey(err) {
		return ErrPlanSlotTaken
	}
	return err
}

func (r *PlanRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Plan, error) {
	var plan model.Plan
	err := r.conn(ctx, tx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetByIDForUpdate 事务内读取并锁定计划行，后续写入基于这次读取的状态
func (r *PlanRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Plan, error) {
	var plan model.Plan
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// FindBySlot 查找占用 (empresa, ano, mes) 的未删除计划，excludeID 用于修改时排除自身
// 没有冲突时返回 nil, nil
// 不加 FOR UPDATE：槽位为空时 MySQL 的间隙锁会让并发插入互相死锁，并发由唯一索引 uk_plano_periodo 兜底
func (r *PlanRepository) FindBySlot(ctx context.Context, tx *gorm.DB, companyID int64, year, month int, excludeID int64) (*model.Plan, error) {
	query := r.conn(ctx, tx).
		Where("empresa_id = ? AND ano = ? AND mes = ?", companyID, year, month)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}

	var plan model.Plan
	err := query.First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// Updates 只更新 updates 中出现的列
func (r *PlanRepository) Updates(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	result := r.conn(ctx, tx).
		Model(&model.Plan{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return ErrPlanSlotTaken
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// UpdateStatus 带旧状态条件的状态更新，并发下旧状态不匹配时返回 ErrPlanStatusChanged
func (r *PlanRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, from, to model.PlanStatus, extra map[string]interface{}) error {
	if !from.CanTransitionTo(to) {
		return ErrPlanStatusChanged
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.conn(ctx, tx).
		Model(&model.Plan{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlanStatusChanged
	}
	return nil
}

// SoftDelete 写入删除时间并释放唯一槽位
func (r *PlanRepository) SoftDelete(ctx context.Context, tx *gorm.DB, id int64, actorID int64) error {
	result := r.conn(ctx, tx).
		Model(&model.Plan{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted_at":     time.Now(),
			"slot_ativo":     nil,
			"atualizado_por": actorID,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// List 按 ano、mes 倒序分页
func (r *PlanRepository) List(ctx context.Context, tx *gorm.DB, f PlanFilter) ([]*model.Plan, int64, error) {
	query := r.conn(ctx, tx).Model(&model.Plan{})

	if f.CompanyID > 0 {
		query = query.Where("empresa_id = ?", f.CompanyID)
	}
	if f.Year > 0 {
		query = query.Where("ano = ?", f.Year)
	}
	if f.Month > 0 {
		query = query.Where("mes = ?", f.Month)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var plans []*model.Plan
	err := query.
		Order("ano DESC").
		Order("mes DESC").
		Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&plans).Error

	return plans, total, err
}

// isDuplicateKey 开启 TranslateError 后驱动会返回 gorm.ErrDuplicatedKey，
// 未开启时按各驱动的错误文本兜底
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
