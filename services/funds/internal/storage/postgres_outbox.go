package storage

import (
	"context"
	"time"
)

func (t *pgTx) InsertOutbox(ctx context.Context, e *OutboxEvent) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, correlation_id,
			exchange, routing_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, e.EventID, e.AggregateType, e.AggregateID, e.EventType, e.CorrelationID,
		e.Exchange, e.RoutingKey, e.Payload, e.CreatedAt).Scan(&e.ID)
}

// PendingOutbox claims up to limit unpublished rows. Rows held by another relay are skipped.
func (t *pgTx) PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, correlation_id,
			exchange, routing_key, payload, published, attempts, last_error, created_at, published_at
		FROM outbox_events
		WHERE NOT published
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.CorrelationID,
			&e.Exchange, &e.RoutingKey, &e.Payload, &e.Published, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $1 WHERE id = $2
	`, at, id)
	return err
}

func (t *pgTx) MarkOutboxFailed(ctx context.Context, id int64, errMsg string) (int, error) {
	var attempts int
	err := t.tx.QueryRow(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = $1
		WHERE id = $2
		RETURNING attempts
	`, errMsg, id).Scan(&attempts)
	return attempts, err
}

func (t *pgTx) CountPendingOutbox(ctx context.Context) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE NOT published`).Scan(&count)
	return count, err
}

func (t *pgTx) IsProcessed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE correlation_id = $1)`, key).Scan(&exists)
	return exists, err
}

func (t *pgTx) MarkProcessed(ctx context.Context, key, consumer string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (correlation_id, consumer_name, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (correlation_id) DO NOTHING
	`, key, consumer, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
