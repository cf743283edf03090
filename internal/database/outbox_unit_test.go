package database

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-research-scraper/internal/metrics"
)

func TestOutboxEvent_Validate(t *testing.T) {
	valid := OutboxEvent{
		AggregateType: "research_run",
		AggregateID:   "run-001",
		EventType:     "PRICE_RESEARCH_COMPLETED",
		Payload:       json.RawMessage(`{"run_id":"run-001"}`),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"missing payload", func(e *OutboxEvent) { e.Payload = nil }},
		{"broken payload", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{"run_id":`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			assert.ErrorIs(t, e.Validate(), ErrInvalidEvent)
		})
	}
}

func TestPrepareEvent(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	e := &OutboxEvent{}

	prepareEvent(e, now)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, OutboxStatusPending, e.Status)
	assert.Equal(t, DefaultStream, e.TargetStream)
	assert.Equal(t, now, e.CreatedAt)
	require.NotNil(t, e.NextRetryAt)
	assert.Equal(t, now, *e.NextRetryAt)

	id := uuid.New()
	e = &OutboxEvent{ID: id, TargetStream: "stream:custom"}
	prepareEvent(e, now)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "stream:custom", e.TargetStream)
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	status, count, next := nextAttempt(0, now)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, count)
	assert.Equal(t, now.Add(2*time.Second), next)

	status, count, _ = nextAttempt(MaxRetryCount-1, now)
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, MaxRetryCount, count)

	assert.Equal(t, 16*time.Second, retryBackoff(4))
	assert.Equal(t, maxBackoff, retryBackoff(9))
	assert.Equal(t, maxBackoff, retryBackoff(64))
}

func TestRelay_DefaultStreamAndMetrics(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockOutbox := new(MockOutboxRepository)
	reg := metrics.NewRegistry()

	relay := (&Relay{
		redis:     mockRedis,
		outbox:    mockOutbox,
		logger:    slog.Default(),
		batchSize: 5,
	}).WithMetrics(reg)

	ok := &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "research_run",
		AggregateID:   "run-001",
		EventType:     "PRICE_RESEARCH_COMPLETED",
		Payload:       json.RawMessage(`{"run_id":"run-001"}`),
	}
	broken := &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "research_run",
		AggregateID:   "run-002",
		EventType:     "PRICE_RESEARCH_COMPLETED",
		Payload:       json.RawMessage(`not json`),
	}

	mockOutbox.On("GetPending", ctx, 5).Return([]*OutboxEvent{ok, broken}, nil)
	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.Stream == DefaultStream && streamValues(args)["aggregate_id"] == "run-001"
	})).Return(nil)
	mockOutbox.On("MarkProcessed", ctx, ok.ID).Return(nil)
	mockOutbox.On("MarkFailed", ctx, broken.ID, mock.Anything).Return(nil)

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mockRedis.AssertExpectations(t)
	mockOutbox.AssertExpectations(t)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "price_research_outbox_published_total 1")
	assert.Contains(t, string(body), "price_research_outbox_failed_total 1")
}
