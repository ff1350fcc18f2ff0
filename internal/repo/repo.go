package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hometrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events older than this id when set.
	Cursor int64
	Limit  int
}

// LatestEvents returns matching events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
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
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// GetEvent returns a single event by id.
func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id=?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// LatestEventID returns the newest event id, or 0 for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var entityID sql.NullString
	if err := s.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
		return e, err
	}
	e.EntityID = entityID.String
	return e, nil
}

// InsertDetectionRun records the totals of one detection pass.
func (r Repo) InsertDetectionRun(ctx context.Context, run domain.DetectionRun) (int64, error) {
	if run.TS == "" {
		run.TS = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO detection_runs(ts,reference_date,created,resolved,refreshed,actor_id) VALUES (?,?,?,?,?,?)`,
		run.TS, run.ReferenceDate, run.Created, run.Resolved, run.Refreshed, run.ActorID)
	if err != nil {
		return 0, fmt.Errorf("insert detection run: %w", err)
	}
	return res.LastInsertId()
}

// ListDetectionRuns returns the most recent runs first.
func (r Repo) ListDetectionRuns(ctx context.Context, limit int) ([]domain.DetectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,reference_date,created,resolved,refreshed,actor_id FROM detection_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DetectionRun
	for rows.Next() {
		var run domain.DetectionRun
		if err := rows.Scan(&run.ID, &run.TS, &run.ReferenceDate, &run.Created, &run.Resolved, &run.Refreshed, &run.ActorID); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
