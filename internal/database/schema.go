package database

// Schema is idempotent and safe to apply on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS research_run (
	id                uuid PRIMARY KEY,
	description       text        NOT NULL,
	reference_price   numeric(12,2),
	status            text        NOT NULL,
	strategy          text        NOT NULL,
	offers_found      integer     NOT NULL DEFAULT 0,
	comparable_count  integer     NOT NULL DEFAULT 0,
	median_price      numeric(12,2),
	recommended_price numeric(12,2),
	errors            jsonb       NOT NULL DEFAULT '[]',
	result            jsonb       NOT NULL,
	started_at        timestamptz NOT NULL,
	completed_at      timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS research_run_started_at_idx ON research_run (started_at DESC);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             uuid PRIMARY KEY,
	aggregate_type text        NOT NULL,
	aggregate_id   text        NOT NULL,
	event_type     text        NOT NULL,
	payload        jsonb       NOT NULL,
	target_stream  text        NOT NULL,
	status         text        NOT NULL DEFAULT 'pending',
	retry_count    integer     NOT NULL DEFAULT 0,
	error_message  text,
	created_at     timestamptz NOT NULL DEFAULT now(),
	processed_at   timestamptz,
	next_retry_at  timestamptz
);

CREATE INDEX IF NOT EXISTS outbox_event_pending_idx ON outbox_event (status, next_retry_at);
`
