package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EntryStatus 资金流入记录状态，三个值之间可任意切换
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pendente"
	EntryStatusConfirmed EntryStatus = "confirmado"
	EntryStatusCancelled EntryStatus = "cancelado"
)

var AllEntryStatuses = []EntryStatus{
	EntryStatusPending,
	EntryStatusConfirmed,
	EntryStatusCancelled,
}

func ParseEntryStatus(raw string) (EntryStatus, bool) {
	for _, s := range AllEntryStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// EntryOperation 对流入记录的操作类型，决定父计划需要满足哪一组状态
type EntryOperation int

const (
	// EntryOpStructural 新增、修改字段、删除
	EntryOpStructural EntryOperation = iota
	// EntryOpStatusChange 仅修改记录自身状态
	EntryOpStatusChange
)

func (op EntryOperation) String() string {
	switch op {
	case EntryOpStructural:
		return "structural"
	case EntryOpStatusChange:
		return "status_change"
	default:
		return "unknown"
	}
}

var entryGates = map[EntryOperation][]PlanStatus{
	EntryOpStructural:   {PlanStatusDraft, PlanStatusInReview},
	EntryOpStatusChange: {PlanStatusDraft, PlanStatusInReview, PlanStatusActive},
}

// EntryGate 返回某类操作允许的父计划状态
func EntryGate(op EntryOperation) []PlanStatus {
	gate := entryGates[op]
	out := make([]PlanStatus, len(gate))
	copy(out, gate)
	return out
}

// CanMutateEntry 父计划处于该状态时是否允许对流入记录执行 op
func CanMutateEntry(planStatus PlanStatus, op EntryOperation) bool {
	for _, s := range entryGates[op] {
		if s == planStatus {
			return true
		}
	}
	return false
}

// Entry 计划下的资金流入记录（EntradaTesouraria）
// PlanID 创建后不可变，所有按 ID 的查询都同时带上 PlanID
type Entry struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanID      int64           `gorm:"column:plano_tesouraria_id;not null;index:idx_entrada_plano_data,priority:1" json:"plano_tesouraria_id"`
	Type        string          `gorm:"column:tipo;type:varchar(50);not null" json:"tipo"`
	Description string          `gorm:"column:descricao;type:varchar(255);not null" json:"descricao"`
	Amount      decimal.Decimal `gorm:"column:valor;type:decimal(18,2);not null" json:"valor"`
	EntryDate   time.Time       `gorm:"column:data_entrada;not null;index:idx_entrada_plano_data,priority:2" json:"data_entrada"`
	Source      *string         `gorm:"column:origem;type:varchar(100)" json:"origem"`
	BudgetID    *int64          `gorm:"column:orcamento_id" json:"orcamento_id"`
	Status      EntryStatus     `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Notes       string          `gorm:"column:observacoes;type:text" json:"observacoes"`
	CreatedBy   int64           `gorm:"column:criado_por;not null" json:"criado_por"`
	UpdatedBy   int64           `gorm:"column:atualizado_por;not null" json:"atualizado_por"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Entry) TableName() string {
	return "entradas_tesouraria"
}
