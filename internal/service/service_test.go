package service

import (
	"context"
	"testing"

	"treasury/internal/config"
	"treasury/internal/infrastructure/database"
	"treasury/internal/model"
	"treasury/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	companyACME  int64 = 7
	companyOther int64 = 8
	budget2025   int64 = 11
	userPreparer int64 = 3
	userApprover int64 = 4
	actorID      int64 = 42
)

const planEventsTopic = "treasury.plan.events"

type fixture struct {
	db        *gorm.DB
	cfg       *config.Config
	directory *repository.DirectoryRepository
	plans     *PlanService
	entries   *EntryService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PlanEvents: planEventsTopic},
		},
		Business: config.BusinessConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Init(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	require.NoError(t, db.Create(&model.Company{ID: companyACME, Name: "Acme"}).Error)
	require.NoError(t, db.Create(&model.Company{ID: companyOther, Name: "Outra"}).Error)
	require.NoError(t, db.Create(&model.Budget{ID: budget2025, CompanyID: companyACME, Description: "Orçamento 2025", Year: 2025}).Error)
	require.NoError(t, db.Create(&model.User{ID: userPreparer, Name: "Ana", Email: "ana@example.com"}).Error)
	require.NoError(t, db.Create(&model.User{ID: userApprover, Name: "Bruno", Email: "bruno@example.com"}).Error)

	return db
}

func setupFixture(t *testing.T, locker SlotLocker) *fixture {
	t.Helper()

	db := setupTestDB(t)
	cfg := testConfig()
	directory := repository.NewDirectoryRepository(db)

	return &fixture{
		db:        db,
		cfg:       cfg,
		directory: directory,
		plans:     NewPlanService(db, cfg, zap.NewNop(), directory, locker),
		entries:   NewEntryService(db, cfg, zap.NewNop()),
	}
}

func (f *fixture) createPlan(t *testing.T, month, year int) *model.Plan {
	t.Helper()

	plan, err := f.plans.CreatePlan(context.Background(), &CreatePlanRequest{
		Month:          month,
		Year:           year,
		OpeningBalance: decimal.NewFromInt(5000),
		CompanyID:      companyACME,
		PreparedBy:     int64Ptr(userPreparer),
	}, actorID)
	require.NoError(t, err)
	return plan
}

// forceStatus 绕过状态机直接写状态，用于构造测试前置条件
func (f *fixture) forceStatus(t *testing.T, planID int64, status model.PlanStatus) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.Plan{}).Where("id = ?", planID).Update("status", status).Error)
}

func (f *fixture) outboxEvents(t *testing.T) []*model.OutboxMessage {
	t.Helper()
	var messages []*model.OutboxMessage
	require.NoError(t, f.db.Order("id ASC").Find(&messages).Error)
	return messages
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}
