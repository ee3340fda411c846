package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nightwatch/pkg/models"
)

// InsertEvent persists one normalized event. A previously stored event
// id yields ErrDuplicateEvent.
func (t *Tx) InsertEvent(ctx context.Context, event *models.Event) error {
	return insertEvent(ctx, t.tx, event)
}

// EventsInWindow returns committed events for the endpoint and type
// with timestamps in [from, to], ordered oldest first.
func (t *Tx) EventsInWindow(ctx context.Context, endpointID string, eventType models.EventType, from, to time.Time) ([]*models.Event, error) {
	return eventsInWindow(ctx, t.tx, endpointID, eventType, from, to)
}

// EventsInWindow is the out-of-transaction variant for read paths.
func (s *Store) EventsInWindow(ctx context.Context, endpointID string, eventType models.EventType, from, to time.Time) ([]*models.Event, error) {
	return eventsInWindow(ctx, s.db, endpointID, eventType, from, to)
}

func insertEvent(ctx context.Context, q querier, event *models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO events (event_id, endpoint_id, event_type, severity, ts, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.EndpointID,
		string(event.Type),
		string(event.Severity),
		event.Timestamp.UTC().UnixNano(),
		string(body),
		time.Now().UTC().UnixNano(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.EventID, err)
	}
	return nil
}

func eventsInWindow(ctx context.Context, q querier, endpointID string, eventType models.EventType, from, to time.Time) ([]*models.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT body FROM events
		WHERE endpoint_id = ? AND event_type = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, id ASC`,
		endpointID,
		string(eventType),
		from.UTC().UnixNano(),
		to.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query event window: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal([]byte(body), &event); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}
