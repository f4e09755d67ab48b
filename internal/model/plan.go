package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlanStatus 资金计划状态
type PlanStatus string

const (
	PlanStatusDraft    PlanStatus = "rascunho"
	PlanStatusInReview PlanStatus = "em_aprovacao"
	PlanStatusApproved PlanStatus = "aprovado"
	PlanStatusRejected PlanStatus = "rejeitado"
	PlanStatusActive   PlanStatus = "ativo"
	PlanStatusClosed   PlanStatus = "encerrado"
)

// AllPlanStatuses 按生命周期顺序排列
var AllPlanStatuses = []PlanStatus{
	PlanStatusDraft,
	PlanStatusInReview,
	PlanStatusApproved,
	PlanStatusRejected,
	PlanStatusActive,
	PlanStatusClosed,
}

// ValidPlanTransitions 状态流转表，encerrado 为终态
var ValidPlanTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusDraft:    {PlanStatusInReview},
	PlanStatusInReview: {PlanStatusApproved, PlanStatusRejected},
	PlanStatusApproved: {PlanStatusActive},
	PlanStatusRejected: {PlanStatusDraft},
	PlanStatusActive:   {PlanStatusClosed},
	PlanStatusClosed:   {},
}

// ParsePlanStatus 把外部传入的字符串转换为状态，非法值返回 false
func ParsePlanStatus(raw string) (PlanStatus, bool) {
	s := PlanStatus(raw)
	if _, ok := ValidPlanTransitions[s]; !ok {
		return "", false
	}
	return s, true
}

// AllowedTransitions 当前状态允许流转到的状态
func (s PlanStatus) AllowedTransitions() []PlanStatus {
	next := ValidPlanTransitions[s]
	out := make([]PlanStatus, len(next))
	copy(out, next)
	return out
}

func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	for _, next := range ValidPlanTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsFieldEditable aprovado / encerrado 状态下计划字段不可修改，也不可删除
func (s PlanStatus) IsFieldEditable() bool {
	return s != PlanStatusApproved && s != PlanStatusClosed
}

// CanImportBudget 只有草稿和审批中的计划可以关联预算
func (s PlanStatus) CanImportBudget() bool {
	return s == PlanStatusDraft || s == PlanStatusInReview
}

func (s PlanStatus) String() string {
	return string(s)
}

// Plan 月度资金计划（PlanoTesouraria）
//
// 同一公司同一年月最多只有一个未删除的计划：
// SlotActive 在计划存活期间为 true，软删除时置为 NULL，
// 唯一索引 uk_plano_periodo 因此只约束未删除的行
type Plan struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Month          int             `gorm:"column:mes;not null;uniqueIndex:uk_plano_periodo,priority:1" json:"mes"`
	Year           int             `gorm:"column:ano;not null;uniqueIndex:uk_plano_periodo,priority:2" json:"ano"`
	CompanyID      int64           `gorm:"column:empresa_id;not null;uniqueIndex:uk_plano_periodo,priority:3;index" json:"empresa_id"`
	SlotActive     *bool           `gorm:"column:slot_ativo;uniqueIndex:uk_plano_periodo,priority:4" json:"-"`
	OpeningBalance decimal.Decimal `gorm:"column:saldo_inicial;type:decimal(18,2);not null;default:0" json:"saldo_inicial"`
	Status         PlanStatus      `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	BudgetID       *int64          `gorm:"column:orcamento_id;index" json:"orcamento_id"`
	PreparedBy     *int64          `gorm:"column:elaborado_por" json:"elaborado_por"`
	ApprovedBy     *int64          `gorm:"column:aprovado_por" json:"aprovado_por"`
	Notes          string          `gorm:"column:observacoes;type:text" json:"observacoes"`
	CreatedBy      int64           `gorm:"column:criado_por;not null" json:"criado_por"`
	UpdatedBy      int64           `gorm:"column:atualizado_por;not null" json:"atualizado_por"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Plan) TableName() string {
	return "planos_tesouraria"
}

// SlotTaken 新建计划时占用的槽位值
func SlotTaken() *bool {
	v := true
	return &v
}
