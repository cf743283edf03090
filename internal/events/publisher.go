// Package events records finished research runs and announces them through
// the transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/price-research-scraper/internal/database"
	"github.com/maltedev/price-research-scraper/internal/pipeline"
)

type EventType string

const (
	// EventTypeResearchCompleted is published once per finished run, failed or not
	EventTypeResearchCompleted EventType = "PRICE_RESEARCH_COMPLETED"

	AggregateType = "research_run"
	Source        = "price-research-scraper"
)

// ResearchCompletedPayload is what stream consumers receive.
type ResearchCompletedPayload struct {
	EventID                string           `json:"event_id"`
	EventType              string           `json:"event_type"`
	Timestamp              time.Time        `json:"timestamp"`
	RunID                  string           `json:"run_id"`
	Description            string           `json:"description"`
	ReferencePrice         *decimal.Decimal `json:"reference_price,omitempty"`
	Status                 string           `json:"status"`
	Strategy               string           `json:"strategy"`
	OffersFound            int              `json:"offers_found"`
	ComparableCount        int              `json:"comparable_count"`
	MedianPrice            *float64         `json:"median_price,omitempty"`
	RecommendedPrice       *decimal.Decimal `json:"recommended_price,omitempty"`
	RecommendationStrategy string           `json:"recommendation_strategy,omitempty"`
	Confidence             float64          `json:"confidence,omitempty"`
	Errors                 []string         `json:"errors"`
	Source                 string           `json:"source"`
}

// Transactor runs fn in a database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type RunWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, run *database.ResearchRun) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores the run and its event in one transaction, so the relay
// never announces a run that was not saved.
type Publisher struct {
	tx     Transactor
	runs   RunWriter
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

// NewPublisher creates a publisher writing runs and events through db.
func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewRunRepository(db), database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(tx Transactor, runs RunWriter, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		tx:     tx,
		runs:   runs,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishResearchCompleted persists res and queues a PRICE_RESEARCH_COMPLETED
// event for it.
func (p *Publisher) PublishResearchCompleted(ctx context.Context, res *pipeline.Result) (*ResearchCompletedPayload, error) {
	run, err := RunFromResult(res)
	if err != nil {
		return nil, err
	}

	payload := PayloadFromResult(res)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: AggregateType,
		AggregateID:   payload.RunID,
		EventType:     string(EventTypeResearchCompleted),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.tx.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, run); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", payload.RunID,
		"status", payload.Status,
		"outbox_id", outboxEvent.ID)

	return payload, nil
}

// PayloadFromResult builds the event payload for a finished run.
func PayloadFromResult(res *pipeline.Result) *ResearchCompletedPayload {
	p := &ResearchCompletedPayload{
		EventID:         uuid.New().String(),
		EventType:       string(EventTypeResearchCompleted),
		Timestamp:       res.CompletedAt,
		RunID:           res.RunID.String(),
		Description:     res.Request.Description,
		Status:          status(res),
		Strategy:        string(res.Strategy()),
		OffersFound:     len(res.Offers),
		ComparableCount: len(res.Comparable),
		Errors:          res.Errors,
		Source:          Source,
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	if p.Errors == nil {
		p.Errors = []string{}
	}
	if res.Request.ReferencePrice.IsPositive() {
		ref := res.Request.ReferencePrice
		p.ReferencePrice = &ref
	}
	if res.Statistics != nil && res.Statistics.Overall != nil {
		m := res.Statistics.Overall.Median
		p.MedianPrice = &m
	}
	if rec := res.Recommendation; rec != nil {
		price := rec.Price
		p.RecommendedPrice = &price
		p.RecommendationStrategy = string(rec.Strategy)
		p.Confidence = rec.Confidence
	}
	return p
}

// RunFromResult flattens a pipeline result into its database row; the full
// result is kept as JSON alongside the summary columns.
func RunFromResult(res *pipeline.Result) (*database.ResearchRun, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	run := &database.ResearchRun{
		ID:              res.RunID,
		Description:     res.Request.Description,
		Status:          status(res),
		Strategy:        string(res.Strategy()),
		OffersFound:     len(res.Offers),
		ComparableCount: len(res.Comparable),
		Errors:          res.Errors,
		Result:          data,
		StartedAt:       res.StartedAt,
		CompletedAt:     res.CompletedAt,
	}
	if res.Request.ReferencePrice.IsPositive() {
		run.ReferencePrice = decimal.NewNullDecimal(res.Request.ReferencePrice)
	}
	if res.Statistics != nil && res.Statistics.Overall != nil {
		run.MedianPrice = decimal.NewNullDecimal(decimal.NewFromFloat(res.Statistics.Overall.Median).Round(2))
	}
	if res.Recommendation != nil {
		run.RecommendedPrice = decimal.NewNullDecimal(res.Recommendation.Price)
	}
	return run, nil
}

func status(res *pipeline.Result) string {
	if res.OK() {
		return database.RunStatusCompleted
	}
	return database.RunStatusFailed
}
