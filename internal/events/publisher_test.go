package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-research-scraper/internal/database"
	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/pipeline"
	"github.com/maltedev/price-research-scraper/internal/pricing"
	"github.com/maltedev/price-research-scraper/internal/stats"
)

// fakeTx runs fn without a real transaction and remembers whether it failed.
type fakeTx struct {
	rolledBack bool
}

func (f *fakeTx) Transaction(_ context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		f.rolledBack = true
		return err
	}
	return nil
}

type MockRunWriter struct {
	mock.Mock
}

func (m *MockRunWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, run *database.ResearchRun) error {
	return m.Called(ctx, tx, run).Error(0)
}

type MockOutboxWriter struct {
	mock.Mock
}

func (m *MockOutboxWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func completedResult() *pipeline.Result {
	started := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	offers := []models.Offer{
		{ItemID: "MLM1", Title: "Bocina JBL Flip Negra", Price: decimal.NewFromInt(1000)},
		{ItemID: "MLM2", Title: "Bocina JBL Flip Azul", Price: decimal.NewFromInt(1050)},
	}
	data := stats.GetPriceRecommendationData(offers)
	return &pipeline.Result{
		RunID: uuid.New(),
		Request: pipeline.Request{
			Description:    "Bocina JBL Flip",
			ReferencePrice: decimal.NewFromInt(1000),
		},
		Searches: []pipeline.SearchRun{{
			Query:   "Bocina JBL Flip",
			Primary: true,
			Result:  &models.ScrapingResult{Strategy: models.StrategyDOMParsing, Offers: offers},
		}},
		Offers:     offers,
		Comparable: offers,
		Statistics: &data,
		Recommendation: &pricing.Recommendation{
			Price:      decimal.RequireFromString("1025"),
			Strategy:   pricing.StrategyCompetitive,
			Confidence: 0.85,
		},
		Errors:      []string{},
		StartedAt:   started,
		CompletedAt: started.Add(4 * time.Second),
	}
}

func TestPublishResearchCompleted(t *testing.T) {
	ctx := context.Background()
	res := completedResult()

	runs := new(MockRunWriter)
	outbox := new(MockOutboxWriter)
	tx := &fakeTx{}

	runs.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(run *database.ResearchRun) bool {
		return run.ID == res.RunID &&
			run.Status == database.RunStatusCompleted &&
			run.Strategy == "dom_parsing" &&
			run.ComparableCount == 2 &&
			run.RecommendedPrice.Valid &&
			run.MedianPrice.Decimal.String() == "1025"
	})).Return(nil)

	outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		var p ResearchCompletedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return false
		}
		return e.AggregateType == AggregateType &&
			e.AggregateID == res.RunID.String() &&
			e.EventType == "PRICE_RESEARCH_COMPLETED" &&
			e.TargetStream == "stream:price_research" &&
			p.RunID == res.RunID.String() &&
			p.Source == Source
	})).Return(nil)

	p := newPublisher(tx, runs, outbox, "", nil)
	payload, err := p.PublishResearchCompleted(ctx, res)
	require.NoError(t, err)

	assert.Equal(t, "completed", payload.Status)
	require.NotNil(t, payload.RecommendedPrice)
	assert.Equal(t, "1025", payload.RecommendedPrice.String())
	assert.Equal(t, pricing.StrategyCompetitive, pricing.Strategy(payload.RecommendationStrategy))
	assert.False(t, tx.rolledBack)

	runs.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestPublishResearchCompleted_OutboxFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	runs := new(MockRunWriter)
	outbox := new(MockOutboxWriter)
	tx := &fakeTx{}

	runs.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(nil)
	outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	_, err := newPublisher(tx, runs, outbox, "stream:custom", nil).PublishResearchCompleted(ctx, completedResult())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, tx.rolledBack)
}

func TestPayloadFromResult_Failed(t *testing.T) {
	res := &pipeline.Result{
		RunID:   uuid.New(),
		Request: pipeline.Request{Description: "Bocina JBL Flip"},
		Errors:  []string{"no offers found"},
	}

	p := PayloadFromResult(res)

	assert.Equal(t, database.RunStatusFailed, p.Status)
	assert.Equal(t, "error", p.Strategy)
	assert.Nil(t, p.ReferencePrice)
	assert.Nil(t, p.MedianPrice)
	assert.Nil(t, p.RecommendedPrice)
	assert.Equal(t, []string{"no offers found"}, p.Errors)
	assert.False(t, p.Timestamp.IsZero())

	run, err := RunFromResult(res)
	require.NoError(t, err)
	assert.False(t, run.ReferencePrice.Valid)
	assert.False(t, run.RecommendedPrice.Valid)
	assert.True(t, json.Valid(run.Result))
}
