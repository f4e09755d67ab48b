package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"treasury/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, time.January, d, 0, 0, 0, 0, time.UTC)
}

func newEntry(planID int64, tipo string, amount string, date time.Time) *model.Entry {
	return &model.Entry{
		PlanID:      planID,
		Type:        tipo,
		Description: tipo + " " + amount,
		Amount:      decimal.RequireFromString(amount),
		EntryDate:   date,
		Status:      model.EntryStatusPending,
		CreatedBy:   1,
		UpdatedBy:   1,
	}
}

func seedPlan(t *testing.T, repo *PlanRepository, companyID int64, month int) *model.Plan {
	t.Helper()
	plan := newPlan(companyID, 2025, month)
	require.NoError(t, repo.Create(context.Background(), nil, plan))
	return plan
}

func TestEntryRepository_ScopedByPlan(t *testing.T) {
	db := setupTestDB(t)
	plans := NewPlanRepository(db)
	repo := NewEntryRepository(db)
	ctx := context.Background()

	p1 := seedPlan(t, plans, 7, 1)
	p2 := seedPlan(t, plans, 7, 2)

	entry := newEntry(p1.ID, "receita", "250.50", day(3))
	require.NoError(t, repo.Create(ctx, nil, entry))

	got, err := repo.GetByIDAndPlan(ctx, nil, entry.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "receita", got.Type)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("250.5")))

	_, err = repo.GetByIDAndPlan(ctx, nil, entry.ID, p2.ID)
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	err = repo.Updates(ctx, nil, entry.ID, p2.ID, map[string]interface{}{"descricao": "x"})
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	err = repo.SoftDelete(ctx, nil, entry.ID, p2.ID, 1)
	assert.True(t, errors.Is(err, ErrEntryNotFound))
}

func TestEntryRepository_UpdatesNeverMovesPlan(t *testing.T) {
	db := setupTestDB(t)
	plans := NewPlanRepository(db)
	repo := NewEntryRepository(db)
	ctx := context.Background()

	p1 := seedPlan(t, plans, 7, 1)
	p2 := seedPlan(t, plans, 7, 2)

	entry := newEntry(p1.ID, "receita", "100", day(3))
	require.NoError(t, repo.Create(ctx, nil, entry))

	err := repo.Updates(ctx, nil, entry.ID, p1.ID, map[string]interface{}{
		"plano_tesouraria_id": p2.ID,
		"descricao":           "ajustado",
	})
	require.NoError(t, err)

	got, err := repo.GetByIDAndPlan(ctx, nil, entry.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, got.PlanID)
	assert.Equal(t, "ajustado", got.Description)
}

func TestEntryRepository_SoftDelete(t *testing.T) {
	db := setupTestDB(t)
	plans := NewPlanRepository(db)
	repo := NewEntryRepository(db)
	ctx := context.Background()

	p := seedPlan(t, plans, 7, 1)
	entry := newEntry(p.ID, "receita", "100", day(3))
	require.NoError(t, repo.Create(ctx, nil, entry))

	require.NoError(t, repo.SoftDelete(ctx, nil, entry.ID, p.ID, 5))
	_, err := repo.GetByIDAndPlan(ctx, nil, entry.ID, p.ID)
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	var deleted model.Entry
	require.NoError(t, db.Unscoped().First(&deleted, entry.ID).Error)
	assert.True(t, deleted.DeletedAt.Valid)
	assert.Equal(t, int64(5), deleted.UpdatedBy)
}

func TestEntryRepository_ListByPlan(t *testing.T) {
	db := setupTestDB(t)
	plans := NewPlanRepository(db)
	repo := NewEntryRepository(db)
	ctx := context.Background()

	p := seedPlan(t, plans, 7, 1)
	other := seedPlan(t, plans, 7, 2)

	late := newEntry(p.ID, "receita", "300", day(20))
	early := newEntry(p.ID, "receita", "100", day(5))
	mid := newEntry(p.ID, "emprestimo", "200.25", day(10))
	gone := newEntry(p.ID, "receita", "999", day(1))
	foreign := newEntry(other.ID, "receita", "50", day(5))
	for _, e := range []*model.Entry{late, early, mid, gone, foreign} {
		require.NoError(t, repo.Create(ctx, nil, e))
	}
	require.NoError(t, repo.SoftDelete(ctx, nil, gone.ID, p.ID, 1))

	entries, total, sum, err := repo.ListByPlan(ctx, nil, EntryFilter{PlanID: p.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "600.25", sum.StringFixed(2))
	require.Len(t, entries, 3)
	assert.Equal(t, early.ID, entries[0].ID)
	assert.Equal(t, mid.ID, entries[1].ID)
	assert.Equal(t, late.ID, entries[2].ID)

	from, to := day(6), day(25)
	entries, total, sum, err = repo.ListByPlan(ctx, nil, EntryFilter{
		PlanID: p.ID, From: &from, To: &to, Type: "receita", Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "300.00", sum.StringFixed(2))
	require.Len(t, entries, 1)
	assert.Equal(t, late.ID, entries[0].ID)

	entries, total, _, err = repo.ListByPlan(ctx, nil, EntryFilter{PlanID: p.ID, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 1)
	assert.Equal(t, late.ID, entries[0].ID)

	entries, total, sum, err = repo.ListByPlan(ctx, nil, EntryFilter{
		PlanID: p.ID, Status: model.EntryStatusConfirmed, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
	assert.True(t, sum.IsZero())
}

func TestEntryRepository_ListByPlanSumIsExact(t *testing.T) {
	db := setupTestDB(t)
	plans := NewPlanRepository(db)
	repo := NewEntryRepository(db)
	ctx := context.Background()

	p := seedPlan(t, plans, 7, 1)
	for _, amount := range []string{"0.10", "0.20", "1234567.89"} {
		require.NoError(t, repo.Create(ctx, nil, newEntry(p.ID, "receita", amount, day(2))))
	}

	_, total, sum, err := repo.ListByPlan(ctx, nil, EntryFilter{PlanID: p.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.True(t, sum.Equal(decimal.RequireFromString("1234568.19")), sum.String())

	_, _, sum, err = repo.ListByPlan(ctx, nil, EntryFilter{PlanID: p.ID, Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("1234568.19")), "合计不受分页影响")
}
