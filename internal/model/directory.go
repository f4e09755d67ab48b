package model

import (
	"time"
)

// 以下三张表归其它模块维护，这里只映射资金计划需要读取的字段

type Company struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:nome;type:varchar(255);not null" json:"nome"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Company) TableName() string {
	return "empresas"
}

type Budget struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID   int64     `gorm:"column:empresa_id;index;not null" json:"empresa_id"`
	Description string    `gorm:"column:descricao;type:varchar(255);not null" json:"descricao"`
	Year        int       `gorm:"column:ano;not null" json:"ano"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Budget) TableName() string {
	return "orcamentos"
}

type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:nome;type:varchar(255);not null" json:"nome"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "usuarios"
}
