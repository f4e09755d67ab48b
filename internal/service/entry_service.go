package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EntryService 计划下资金流入记录的管理
// 每个写操作都在同一事务内先锁定父计划再校验计划状态
type EntryService struct {
	db        *gorm.DB
	cfg       *config.Config
	logger    *zap.Logger
	planRepo  *repository.PlanRepository
	entryRepo *repository.EntryRepository
}

func NewEntryService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *EntryService {
	return &EntryService{
		db:        db,
		cfg:       cfg,
		logger:    logger,
		planRepo:  repository.NewPlanRepository(db),
		entryRepo: repository.NewEntryRepository(db),
	}
}

// CreateEntryRequest EntryDate 为空时取当前时间
type CreateEntryRequest struct {
	Type        string          `json:"tipo"`
	Description string          `json:"descricao"`
	Amount      decimal.Decimal `json:"valor"`
	EntryDate   *time.Time      `json:"data_entrada"`
	Source      *string         `json:"origem"`
	BudgetID    *int64          `json:"orcamento_id"`
	Notes       string          `json:"observacoes"`
}

// UpdateEntryRequest 字段为 nil 表示不修改，Status 只用于识别并拒绝
type UpdateEntryRequest struct {
	Type        *string          `json:"tipo"`
	Description *string          `json:"descricao"`
	Amount      *decimal.Decimal `json:"valor"`
	EntryDate   *time.Time       `json:"data_entrada"`
	Source      *string          `json:"origem"`
	BudgetID    *int64           `json:"orcamento_id"`
	Status      *string          `json:"status"`
	Notes       *string          `json:"observacoes"`
}

type EntryStatusRequest struct {
	Status string `json:"status"`
}

type EntryQuery struct {
	From     *time.Time
	To       *time.Time
	Type     string
	Status   string
	Page     int
	PageSize int
}

type EntryPage struct {
	Items       []*model.Entry  `json:"items"`
	Total       int64           `json:"total"`
	TotalAmount decimal.Decimal `json:"valor_total"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
}

func (s *EntryService) ListEntries(ctx context.Context, planID int64, q *EntryQuery) (*EntryPage, error) {
	filter := repository.EntryFilter{
		PlanID: planID,
		From:   q.From,
		To:     q.To,
		Type:   strings.TrimSpace(q.Type),
	}
	if q.Status != "" {
		status, ok := model.ParseEntryStatus(q.Status)
		if !ok {
			return nil, newInvalidEntryStatus(q.Status)
		}
		filter.Status = status
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return nil, newValidation("data_entrada", "开始日期不能晚于结束日期")
	}
	filter.Page, filter.PageSize = normalizePage(s.cfg, q.Page, q.PageSize)

	if _, err := s.planRepo.GetByID(ctx, nil, planID); err != nil {
		return nil, translateRepoErr(err, "查询资金计划失败")
	}

	entries, total, sum, err := s.entryRepo.ListByPlan(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("查询流入记录失败: %w", err)
	}
	if entries == nil {
		entries = []*model.Entry{}
	}

	return &EntryPage{
		Items:       entries,
		Total:       total,
		TotalAmount: sum,
		Page:        filter.Page,
		PageSize:    filter.PageSize,
	}, nil
}

// GetEntry 记录必须属于 planID，否则视为不存在
func (s *EntryService) GetEntry(ctx context.Context, planID, entryID int64) (*model.Entry, error) {
	if _, err := s.planRepo.GetByID(ctx, nil, planID); err != nil {
		return nil, translateRepoErr(err, "查询资金计划失败")
	}

	entry, err := s.entryRepo.GetByIDAndPlan(ctx, nil, entryID, planID)
	if err != nil {
		return nil, translateRepoErr(err, "查询流入记录失败")
	}
	return entry, nil
}

func (s *EntryService) CreateEntry(ctx context.Context, planID int64, req *CreateEntryRequest, actorID int64) (*model.Entry, error) {
	if err := validateNewEntry(req); err != nil {
		return nil, err
	}

	var entry *model.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, planID)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}

		entry, err = s.createInPlan(ctx, tx, plan, req, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("流入记录已创建",
		zap.Int64("plan_id", planID),
		zap.Int64("entry_id", entry.ID),
		zap.String("valor", entry.Amount.String()),
		zap.Int64("actor_id", actorID),
	)
	return entry, nil
}

// createInPlan 流入记录的创建规则，plan 必须是当前事务内已锁定的计划
func (s *EntryService) createInPlan(ctx context.Context, tx *gorm.DB, plan *model.Plan, req *CreateEntryRequest, actorID int64) (*model.Entry, error) {
	if !model.CanMutateEntry(plan.Status, model.EntryOpStructural) {
		return nil, newPlanNotEditable(plan.Status, model.EntryOpStructural)
	}
	if err := validateNewEntry(req); err != nil {
		return nil, err
	}

	entryDate := time.Now()
	if req.EntryDate != nil {
		entryDate = *req.EntryDate
	}

	entry := &model.Entry{
		PlanID:      plan.ID,
		Type:        strings.TrimSpace(req.Type),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		EntryDate:   entryDate,
		Source:      req.Source,
		BudgetID:    req.BudgetID,
		Status:      model.EntryStatusPending,
		Notes:       req.Notes,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("创建流入记录失败: %w", err)
	}
	return entry, nil
}

func (s *EntryService) UpdateEntry(ctx context.Context, planID, entryID int64, req *UpdateEntryRequest, actorID int64) (*model.Entry, error) {
	updates, err := entryUpdates(req)
	if err != nil {
		return nil, err
	}
	updates["atualizado_por"] = actorID

	var updated *model.Entry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockForMutation(ctx, tx, planID, entryID, model.EntryOpStructural); err != nil {
			return err
		}

		if err := s.entryRepo.Updates(ctx, tx, entryID, planID, updates); err != nil {
			return translateRepoErr(err, "修改流入记录失败")
		}

		updated, err = s.entryRepo.GetByIDAndPlan(ctx, tx, entryID, planID)
		return translateRepoErr(err, "查询流入记录失败")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("流入记录已修改",
		zap.Int64("plan_id", planID),
		zap.Int64("entry_id", entryID),
		zap.Int64("actor_id", actorID),
	)
	return updated, nil
}

func (s *EntryService) DeleteEntry(ctx context.Context, planID, entryID int64, actorID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockForMutation(ctx, tx, planID, entryID, model.EntryOpStructural); err != nil {
			return err
		}

		return translateRepoErr(s.entryRepo.SoftDelete(ctx, tx, entryID, planID, actorID), "删除流入记录失败")
	})
	if err != nil {
		return err
	}

	s.logger.Info("流入记录已删除",
		zap.Int64("plan_id", planID),
		zap.Int64("entry_id", entryID),
		zap.Int64("actor_id", actorID),
	)
	return nil
}

// ChangeEntryStatus 流入记录状态之间可以任意切换，只受父计划状态限制
func (s *EntryService) ChangeEntryStatus(ctx context.Context, planID, entryID int64, req *EntryStatusRequest, actorID int64) (*model.Entry, error) {
	target, ok := model.ParseEntryStatus(req.Status)
	if !ok {
		return nil, newInvalidEntryStatus(req.Status)
	}

	var (
		updated *model.Entry
		from    model.EntryStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.lockForMutation(ctx, tx, planID, entryID, model.EntryOpStatusChange)
		if err != nil {
			return err
		}
		from = entry.Status

		err = s.entryRepo.Updates(ctx, tx, entryID, planID, map[string]interface{}{
			"status":         target,
			"atualizado_por": actorID,
		})
		if err != nil {
			return translateRepoErr(err, "更新流入记录状态失败")
		}

		updated, err = s.entryRepo.GetByIDAndPlan(ctx, tx, entryID, planID)
		return translateRepoErr(err, "查询流入记录失败")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("流入记录状态已变更",
		zap.Int64("plan_id", planID),
		zap.Int64("entry_id", entryID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Int64("actor_id", actorID),
	)
	return updated, nil
}

// lockForMutation 锁定父计划，确认记录属于该计划，再按操作类型检查计划状态
func (s *EntryService) lockForMutation(ctx context.Context, tx *gorm.DB, planID, entryID int64, op model.EntryOperation) (*model.Entry, error) {
	plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, planID)
	if err != nil {
		return nil, translateRepoErr(err, "查询资金计划失败")
	}

	entry, err := s.entryRepo.GetByIDAndPlan(ctx, tx, entryID, planID)
	if err != nil {
		return nil, translateRepoErr(err, "查询流入记录失败")
	}

	if !model.CanMutateEntry(plan.Status, op) {
		return nil, newPlanNotEditable(plan.Status, op)
	}
	return entry, nil
}

func validateNewEntry(req *CreateEntryRequest) error {
	if strings.TrimSpace(req.Type) == "" {
		return newValidation("tipo", "tipo 不能为空")
	}
	if strings.TrimSpace(req.Description) == "" {
		return newValidation("descricao", "descricao 不能为空")
	}
	if !req.Amount.IsPositive() {
		return newValidation("valor", "valor 必须大于 0")
	}
	return nil
}

func entryUpdates(req *UpdateEntryRequest) (map[string]interface{}, error) {
	if req.Status != nil {
		return nil, newValidation("status", "状态不能通过修改接口变更，请使用状态变更接口")
	}

	updates := make(map[string]interface{})
	if req.Type != nil {
		tipo := strings.TrimSpace(*req.Type)
		if tipo == "" {
			return nil, newValidation("tipo", "tipo 不能为空")
		}
		updates["tipo"] = tipo
	}
	if req.Description != nil {
		descricao := strings.TrimSpace(*req.Description)
		if descricao == "" {
			return nil, newValidation("descricao", "descricao 不能为空")
		}
		updates["descricao"] = descricao
	}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, newValidation("valor", "valor 必须大于 0")
		}
		updates["valor"] = *req.Amount
	}
	if req.EntryDate != nil {
		updates["data_entrada"] = *req.EntryDate
	}
	if req.Source != nil {
		updates["origem"] = *req.Source
	}
	if req.BudgetID != nil {
		updates["orcamento_id"] = *req.BudgetID
	}
	if req.Notes != nil {
		updates["observacoes"] = *req.Notes
	}
	return updates, nil
}
