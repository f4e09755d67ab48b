package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minPlanYear = 2000
	maxPlanYear = 2100
)

type PlanService struct {
	db         *gorm.DB
	cfg        *config.Config
	logger     *zap.Logger
	planRepo   *repository.PlanRepository
	outboxRepo *repository.OutboxRepository
	directory  Directory
	locker     SlotLocker
	entries    *EntryService
	seeder     EntrySeeder
}

// NewPlanService locker 为 nil 时不加分布式锁，只依赖数据库唯一索引
func NewPlanService(db *gorm.DB, cfg *config.Config, logger *zap.Logger, directory Directory, locker SlotLocker) *PlanService {
	if locker == nil {
		locker = noopLocker{}
	}
	return &PlanService{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		planRepo:   repository.NewPlanRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		directory:  directory,
		locker:     locker,
		entries:    NewEntryService(db, cfg, logger),
	}
}

// SetEntrySeeder 配置导入预算时生成流入记录的钩子
func (s *PlanService) SetEntrySeeder(seeder EntrySeeder) {
	s.seeder = seeder
}

type CreatePlanRequest struct {
	Month          int             `json:"mes"`
	Year           int             `json:"ano"`
	OpeningBalance decimal.Decimal `json:"saldo_inicial"`
	CompanyID      int64           `json:"empresa_id"`
	BudgetID       *int64          `json:"orcamento_id"`
	PreparedBy     *int64          `json:"elaborado_por"`
	ApprovedBy     *int64          `json:"aprovado_por"`
	Notes          string          `json:"observacoes"`
}

// UpdatePlanRequest 字段为 nil 表示不修改
// Status 只用于识别并拒绝，状态只能通过 TransitionStatus 变更
type UpdatePlanRequest struct {
	Month          *int             `json:"mes"`
	Year           *int             `json:"ano"`
	OpeningBalance *decimal.Decimal `json:"saldo_inicial"`
	BudgetID       *int64           `json:"orcamento_id"`
	PreparedBy     *int64           `json:"elaborado_por"`
	ApprovedBy     *int64           `json:"aprovado_por"`
	Status         *string          `json:"status"`
	Notes          *string          `json:"observacoes"`
}

type TransitionRequest struct {
	Status     string `json:"status"`
	ApprovedBy *int64 `json:"aprovado_por"`
}

type ImportBudgetRequest struct {
	BudgetID *int64 `json:"orcamento_id"`
}

type ImportResult struct {
	Plan    *model.Plan    `json:"plano"`
	Entries []*model.Entry `json:"entradas"`
}

type PlanQuery struct {
	CompanyID int64
	Year      int
	Month     int
	Status    string
	Page      int
	PageSize  int
}

type PlanPage struct {
	Items    []*model.Plan `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type BudgetSummary struct {
	ID          int64  `json:"id"`
	Description string `json:"descricao"`
	Year        int    `json:"ano"`
}

type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email"`
}

// PlanDetail 计划详情，附带预算和人员信息，查询失败时对应字段为空
type PlanDetail struct {
	*model.Plan
	Budget   *BudgetSummary `json:"orcamento,omitempty"`
	Preparer *UserSummary   `json:"elaborador,omitempty"`
	Approver *UserSummary   `json:"aprovador,omitempty"`
}

// PlanEvent 写入 outbox 的计划生命周期事件
type PlanEvent struct {
	EventNo        string    `json:"event_no"`
	EventType      string    `json:"event_type"`
	PlanID         int64     `json:"plano_id"`
	CompanyID      int64     `json:"empresa_id"`
	Month          int       `json:"mes"`
	Year           int       `json:"ano"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	BudgetID       *int64    `json:"orcamento_id,omitempty"`
	EntriesCreated int       `json:"entradas_criadas,omitempty"`
	ActorID        int64     `json:"actor_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *PlanService) CreatePlan(ctx context.Context, req *CreatePlanRequest, actorID int64) (*model.Plan, error) {
	if err := validatePeriod(req.Month, req.Year); err != nil {
		return nil, err
	}
	if req.CompanyID <= 0 {
		return nil, newValidation("empresa_id", "empresa_id 不能为空")
	}

	// 外部表查询放在事务外
	exists, err := s.directory.CompanyExists(ctx, req.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("查询公司失败: %w", err)
	}
	if !exists {
		return nil, newValidation("empresa_id", fmt.Sprintf("公司 %d 不存在", req.CompanyID))
	}
	if err := s.checkBudget(ctx, req.BudgetID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.LockSlot(ctx, req.CompanyID, req.Year, req.Month)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer unlock()

	plan := &model.Plan{
		Month:          req.Month,
		Year:           req.Year,
		CompanyID:      req.CompanyID,
		OpeningBalance: req.OpeningBalance,
		Status:         model.PlanStatusDraft,
		BudgetID:       req.BudgetID,
		PreparedBy:     req.PreparedBy,
		ApprovedBy:     req.ApprovedBy,
		Notes:          req.Notes,
		CreatedBy:      actorID,
		UpdatedBy:      actorID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflict, err := s.planRepo.FindBySlot(ctx, tx, req.CompanyID, req.Year, req.Month, 0)
		if err != nil {
			return fmt.Errorf("检查计划唯一性失败: %w", err)
		}
		if conflict != nil {
			return newDuplicatePlan(req.Month, req.Year, req.CompanyID)
		}

		if err := s.planRepo.Create(ctx, tx, plan); err != nil {
			if errors.Is(err, repository.ErrPlanSlotTaken) {
				return newDuplicatePlan(req.Month, req.Year, req.CompanyID)
			}
			return fmt.Errorf("创建资金计划失败: %w", err)
		}

		return s.enqueueEvent(ctx, tx, model.EventPlanCreated, plan, "", plan.Status, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("资金计划已创建",
		zap.Int64("plan_id", plan.ID),
		zap.Int64("empresa_id", plan.CompanyID),
		zap.Int("ano", plan.Year),
		zap.Int("mes", plan.Month),
		zap.Int64("actor_id", actorID),
	)
	return plan, nil
}

func (s *PlanService) UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest, actorID int64) (*model.Plan, error) {
	if req.Status != nil {
		return nil, newValidation("status", "状态不能通过修改接口变更，请使用状态变更接口")
	}
	if req.Month != nil && (*req.Month < 1 || *req.Month > 12) {
		return nil, newValidation("mes", "mes 必须在 1 到 12 之间")
	}
	if req.Year != nil && (*req.Year < minPlanYear || *req.Year > maxPlanYear) {
		return nil, newValidation("ano", fmt.Sprintf("ano 必须在 %d 到 %d 之间", minPlanYear, maxPlanYear))
	}

	// 先确认计划存在，再查外部表
	current, err := s.planRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translateRepoErr(err, "查询资金计划失败")
	}
	if err := s.checkBudget(ctx, req.BudgetID); err != nil {
		return nil, err
	}

	// 改期时先锁目标槽位
	if req.Month != nil || req.Year != nil {
		month, year := current.Month, current.Year
		if req.Month != nil {
			month = *req.Month
		}
		if req.Year != nil {
			year = *req.Year
		}
		if month != current.Month || year != current.Year {
			unlock, err := s.locker.LockSlot(ctx, current.CompanyID, year, month)
			if err != nil {
				return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
			}
			defer unlock()
		}
	}

	var updated *model.Plan
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}
		if !plan.Status.IsFieldEditable() {
			return newPlanLocked(plan.Status, "修改")
		}

		updates := map[string]interface{}{"atualizado_por": actorID}
		month, year := plan.Month, plan.Year
		if req.Month != nil {
			month = *req.Month
			updates["mes"] = month
		}
		if req.Year != nil {
			year = *req.Year
			updates["ano"] = year
		}
		if req.OpeningBalance != nil {
			updates["saldo_inicial"] = *req.OpeningBalance
		}
		if req.BudgetID != nil {
			updates["orcamento_id"] = *req.BudgetID
		}
		if req.PreparedBy != nil {
			updates["elaborado_por"] = *req.PreparedBy
		}
		if req.ApprovedBy != nil {
			updates["aprovado_por"] = *req.ApprovedBy
		}
		if req.Notes != nil {
			updates["observacoes"] = *req.Notes
		}

		if month != plan.Month || year != plan.Year {
			conflict, err := s.planRepo.FindBySlot(ctx, tx, plan.CompanyID, year, month, plan.ID)
			if err != nil {
				return fmt.Errorf("检查计划唯一性失败: %w", err)
			}
			if conflict != nil {
				return newDuplicatePlan(month, year, plan.CompanyID)
			}
		}

		if err := s.planRepo.Updates(ctx, tx, plan.ID, updates); err != nil {
			if errors.Is(err, repository.ErrPlanSlotTaken) {
				return newDuplicatePlan(month, year, plan.CompanyID)
			}
			return translateRepoErr(err, "修改资金计划失败")
		}

		updated, err = s.planRepo.GetByID(ctx, tx, plan.ID)
		return translateRepoErr(err, "查询资金计划失败")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("资金计划已修改", zap.Int64("plan_id", id), zap.Int64("actor_id", actorID))
	return updated, nil
}

func (s *PlanService) DeletePlan(ctx context.Context, id int64, actorID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}
		if !plan.Status.IsFieldEditable() {
			return newPlanLocked(plan.Status, "删除")
		}

		if err := s.planRepo.SoftDelete(ctx, tx, plan.ID, actorID); err != nil {
			return translateRepoErr(err, "删除资金计划失败")
		}

		return s.enqueueEvent(ctx, tx, model.EventPlanDeleted, plan, plan.Status, "", actorID, nil)
	})
	if err != nil {
		return err
	}

	s.logger.Info("资金计划已删除", zap.Int64("plan_id", id), zap.Int64("actor_id", actorID))
	return nil
}

// TransitionStatus 按状态机变更计划状态，变更为 aprovado 时必须提供审批人
func (s *PlanService) TransitionStatus(ctx context.Context, id int64, req *TransitionRequest, actorID int64) (*model.Plan, error) {
	target, ok := model.ParsePlanStatus(req.Status)
	if !ok {
		return nil, newInvalidPlanStatus(req.Status)
	}

	var (
		updated *model.Plan
		from    model.PlanStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}
		from = plan.Status

		if !plan.Status.CanTransitionTo(target) {
			return newInvalidTransition(plan.Status, target)
		}
		if target == model.PlanStatusApproved && (req.ApprovedBy == nil || *req.ApprovedBy <= 0) {
			return ErrMissingApprover.with(func(e *Error) {
				e.Current = plan.Status.String()
				e.Target = target.String()
			})
		}

		extra := map[string]interface{}{"atualizado_por": actorID}
		if req.ApprovedBy != nil {
			extra["aprovado_por"] = *req.ApprovedBy
		}
		if err := s.planRepo.UpdateStatus(ctx, tx, plan.ID, plan.Status, target, extra); err != nil {
			return translateRepoErr(err, "更新计划状态失败")
		}

		updated, err = s.planRepo.GetByID(ctx, tx, plan.ID)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}
		return s.enqueueEvent(ctx, tx, model.EventPlanStatusChanged, updated, from, target, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("资金计划状态已变更",
		zap.Int64("plan_id", id),
		zap.String("from", from.String()),
		zap.String("to", target.String()),
		zap.Int64("actor_id", actorID),
	)
	return updated, nil
}

// ImportFromBudget 关联预算，配置了 EntrySeeder 时在同一事务内生成流入记录
func (s *PlanService) ImportFromBudget(ctx context.Context, id int64, req *ImportBudgetRequest, actorID int64) (*ImportResult, error) {
	if req.BudgetID == nil || *req.BudgetID <= 0 {
		return nil, ErrMissingBudgetID
	}

	budget, err := s.directory.GetBudget(ctx, *req.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("查询预算失败: %w", err)
	}
	if budget == nil {
		return nil, newValidation("orcamento_id", fmt.Sprintf("预算 %d 不存在", *req.BudgetID))
	}

	result := &ImportResult{Entries: []*model.Entry{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.planRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}
		if !plan.Status.CanImportBudget() {
			return newPlanLocked(plan.Status, "导入预算")
		}

		err = s.planRepo.Updates(ctx, tx, plan.ID, map[string]interface{}{
			"orcamento_id":   budget.ID,
			"atualizado_por": actorID,
		})
		if err != nil {
			return translateRepoErr(err, "关联预算失败")
		}
		plan.BudgetID = &budget.ID

		if s.seeder != nil {
			drafts, err := s.seeder.SeedFromBudget(ctx, plan, budget)
			if err != nil {
				return fmt.Errorf("生成流入记录失败: %w", err)
			}
			for i := range drafts {
				entry, err := s.entries.createInPlan(ctx, tx, plan, &drafts[i], actorID)
				if err != nil {
					return err
				}
				result.Entries = append(result.Entries, entry)
			}
		}

		result.Plan, err = s.planRepo.GetByID(ctx, tx, plan.ID)
		if err != nil {
			return translateRepoErr(err, "查询资金计划失败")
		}

		return s.enqueueEvent(ctx, tx, model.EventPlanBudgetImported, result.Plan, "", "", actorID, func(e *PlanEvent) {
			e.EntriesCreated = len(result.Entries)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("资金计划已导入预算",
		zap.Int64("plan_id", id),
		zap.Int64("orcamento_id", budget.ID),
		zap.Int("entradas", len(result.Entries)),
		zap.Int64("actor_id", actorID),
	)
	return result, nil
}

func (s *PlanService) GetPlan(ctx context.Context, id int64) (*PlanDetail, error) {
	plan, err := s.planRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translateRepoErr(err, "查询资金计划失败")
	}

	detail := &PlanDetail{Plan: plan}
	if plan.BudgetID != nil {
		budget, err := s.directory.GetBudget(ctx, *plan.BudgetID)
		if err != nil {
			s.logger.Warn("查询预算失败", zap.Int64("plan_id", id), zap.Error(err))
		} else if budget != nil {
			detail.Budget = &BudgetSummary{ID: budget.ID, Description: budget.Description, Year: budget.Year}
		}
	}
	detail.Preparer = s.lookupUser(ctx, plan.PreparedBy)
	detail.Approver = s.lookupUser(ctx, plan.ApprovedBy)

	return detail, nil
}

func (s *PlanService) ListPlans(ctx context.Context, q *PlanQuery) (*PlanPage, error) {
	filter := repository.PlanFilter{
		CompanyID: q.CompanyID,
		Year:      q.Year,
		Month:     q.Month,
	}
	if q.Status != "" {
		status, ok := model.ParsePlanStatus(q.Status)
		if !ok {
			return nil, newInvalidPlanStatus(q.Status)
		}
		filter.Status = status
	}
	filter.Page, filter.PageSize = normalizePage(s.cfg, q.Page, q.PageSize)

	plans, total, err := s.planRepo.List(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("查询资金计划列表失败: %w", err)
	}
	if plans == nil {
		plans = []*model.Plan{}
	}

	return &PlanPage{
		Items:    plans,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (s *PlanService) lookupUser(ctx context.Context, id *int64) *UserSummary {
	if id == nil {
		return nil
	}
	user, err := s.directory.GetUser(ctx, *id)
	if err != nil {
		s.logger.Warn("查询用户失败", zap.Int64("user_id", *id), zap.Error(err))
		return nil
	}
	if user == nil {
		return nil
	}
	return &UserSummary{ID: user.ID, Name: user.Name, Email: user.Email}
}

func (s *PlanService) checkBudget(ctx context.Context, budgetID *int64) error {
	if budgetID == nil {
		return nil
	}
	budget, err := s.directory.GetBudget(ctx, *budgetID)
	if err != nil {
		return fmt.Errorf("查询预算失败: %w", err)
	}
	if budget == nil {
		return newValidation("orcamento_id", fmt.Sprintf("预算 %d 不存在", *budgetID))
	}
	return nil
}

func (s *PlanService) enqueueEvent(ctx context.Context, tx *gorm.DB, eventType string, plan *model.Plan, from, to model.PlanStatus, actorID int64, mutate func(*PlanEvent)) error {
	event := &PlanEvent{
		EventNo:    idgen.GenerateEventNo(),
		EventType:  eventType,
		PlanID:     plan.ID,
		CompanyID:  plan.CompanyID,
		Month:      plan.Month,
		Year:       plan.Year,
		From:       string(from),
		To:         string(to),
		BudgetID:   plan.BudgetID,
		ActorID:    actorID,
		OccurredAt: time.Now(),
	}
	if mutate != nil {
		mutate(event)
	}

	// 按计划 ID 分区，同一计划的事件保持顺序
	key := strconv.FormatInt(plan.ID, 10)
	if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.PlanEvents, eventType, key, event); err != nil {
		return fmt.Errorf("写入计划事件失败: %w", err)
	}
	return nil
}

// translateRepoErr 把仓储层的哨兵错误转换为领域错误，其它错误按基础设施错误包装
func translateRepoErr(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrPlanNotFound):
		return ErrPlanNotFound
	case errors.Is(err, repository.ErrEntryNotFound):
		return ErrEntryNotFound
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return newValidation("mes", "mes 必须在 1 到 12 之间")
	}
	if year < minPlanYear || year > maxPlanYear {
		return newValidation("ano", fmt.Sprintf("ano 必须在 %d 到 %d 之间", minPlanYear, maxPlanYear))
	}
	return nil
}

func normalizePage(cfg *config.Config, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = cfg.Business.DefaultPageSize
	}
	if pageSize > cfg.Business.MaxPageSize {
		pageSize = cfg.Business.MaxPageSize
	}
	return page, pageSize
}
