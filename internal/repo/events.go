package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamtacles/internal/domain"
)

// EventFilter selects audit events. Zero values do not constrain.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   int64
	Before     int64
	Limit      int
}

// ListEvents returns events newest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID > 0 {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, f.Limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, actorID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &actorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.Int64
		e.ActorID = actorID.Int64
		res = append(res, e)
	}
	return res, rows.Err()
}
