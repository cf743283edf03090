package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(description string, started time.Time) *ResearchRun {
	return &ResearchRun{
		ID:               uuid.New(),
		Description:      description,
		ReferencePrice:   decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		Strategy:         "dom_parsing",
		OffersFound:      12,
		ComparableCount:  9,
		MedianPrice:      decimal.NewNullDecimal(decimal.RequireFromString("1012.50")),
		RecommendedPrice: decimal.NewNullDecimal(decimal.RequireFromString("1012.50")),
		Result:           json.RawMessage(`{"errors":[]}`),
		StartedAt:        started,
		CompletedAt:      started.Add(3 * time.Second),
	}
}

func TestResearchRun_Validate(t *testing.T) {
	run := newRun("Bocina JBL Flip", time.Now())
	require.NoError(t, run.Validate())

	noID := *run
	noID.ID = uuid.Nil
	assert.Error(t, noID.Validate())

	noDesc := *run
	noDesc.Description = ""
	assert.Error(t, noDesc.Validate())

	badResult := *run
	badResult.Result = json.RawMessage(`{`)
	assert.Error(t, badResult.Validate())
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := newRun("Bocina JBL Flip", base)
	second := newRun("Sony WH-1000XM5", base.Add(time.Minute))
	second.Status = RunStatusFailed
	second.Errors = []string{"no offers found"}
	second.RecommendedPrice = decimal.NullDecimal{}

	for _, run := range []*ResearchRun{first, second} {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, run)
		})
		require.NoError(t, err)
	}

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)

		assert.Equal(t, RunStatusCompleted, got.Status)
		assert.Equal(t, "Bocina JBL Flip", got.Description)
		assert.True(t, got.MedianPrice.Valid)
		assert.Equal(t, "1012.5", got.MedianPrice.Decimal.String())
		assert.Empty(t, got.Errors)
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		runs, err := repo.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)

		assert.Equal(t, second.ID, runs[0].ID)
		assert.Equal(t, []string{"no offers found"}, runs[0].Errors)
		assert.False(t, runs[0].RecommendedPrice.Valid)
	})

	t.Run("rollback keeps nothing", func(t *testing.T) {
		third := newRun("Tripie 8", base)
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, third); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		_, err = repo.Get(ctx, third.ID)
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}
