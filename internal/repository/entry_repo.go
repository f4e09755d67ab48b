package repository

import (
	"context"
	"errors"
	"time"

	"treasury/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrEntryNotFound = errors.New("资金流入记录不存在")

// EntryFilter 计划下流入记录的查询条件
type EntryFilter struct {
	PlanID   int64
	From     *time.Time
	To       *time.Time
	Type     string
	Status   model.EntryStatus
	Page     int
	PageSize int
}

type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

func (r *EntryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.Entry) error {
	return r.conn(ctx, tx).Create(entry).Error
}

// GetByIDAndPlan 记录 ID 必须和计划 ID 同时匹配
func (r *EntryRepository) GetByIDAndPlan(ctx context.Context, tx *gorm.DB, id, planID int64) (*model.Entry, error) {
	var entry model.Entry
	err := r.conn(ctx, tx).
		Where("id = ? AND plano_tesouraria_id = ?", id, planID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Updates 部分更新，plano_tesouraria_id 永远不在更新范围内
func (r *EntryRepository) Updates(ctx context.Context, tx *gorm.DB, id, planID int64, updates map[string]interface{}) error {
	delete(updates, "plano_tesouraria_id")

	result := r.conn(ctx, tx).
		Model(&model.Entry{}).
		Where("id = ? AND plano_tesouraria_id = ?", id, planID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *EntryRepository) SoftDelete(ctx context.Context, tx *gorm.DB, id, planID, actorID int64) error {
	result := r.conn(ctx, tx).
		Model(&model.Entry{}).
		Where("id = ? AND plano_tesouraria_id = ?", id, planID).
		Updates(map[string]interface{}{
			"deleted_at":     time.Now(),
			"atualizado_por": actorID,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListByPlan 按 data_entrada 升序、创建时间倒序分页，同时返回筛选结果的金额合计
func (r *EntryRepository) ListByPlan(ctx context.Context, tx *gorm.DB, f EntryFilter) ([]*model.Entry, int64, decimal.Decimal, error) {
	query := r.conn(ctx, tx).
		Model(&model.Entry{}).
		Where("plano_tesouraria_id = ?", f.PlanID)

	if f.From != nil {
		query = query.Where("data_entrada >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("data_entrada <= ?", *f.To)
	}
	if f.Type != "" {
		query = query.Where("tipo = ?", f.Type)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, decimal.Zero, err
	}

	amount, err := sumAmount(query.Session(&gorm.Session{}))
	if err != nil {
		return nil, 0, decimal.Zero, err
	}

	var entries []*model.Entry
	err = query.Session(&gorm.Session{}).
		Order("data_entrada ASC").
		Order("created_at DESC").
		Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, decimal.Zero, err
	}

	return entries, total, amount, nil
}

// sumAmount 汇总 valor
// SQLite 的 SUM 按浮点累加，这里取出每行金额用 decimal 相加
func sumAmount(query *gorm.DB) (decimal.Decimal, error) {
	if query.Dialector.Name() == "sqlite" {
		var amounts []decimal.Decimal
		if err := query.Pluck("valor", &amounts).Error; err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, a := range amounts {
			total = total.Add(a)
		}
		return total, nil
	}

	var sum decimal.NullDecimal
	if err := query.Select("SUM(valor)").Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
