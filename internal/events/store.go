package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgx used by the event store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists events into the domain_events table.
type PGStore struct {
	DB DB
}

// InsertEvent stores ev and returns it with the database timestamp.
func (s PGStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	if s.DB == nil {
		return Event{}, errors.New("events: database not configured")
	}
	err := s.DB.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING occurred_at`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).Scan(&ev.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}
