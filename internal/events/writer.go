package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the audit log.
const (
	DocumentSaved    = "document.saved"
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	MaterialUpdated  = "material.updated"
	IssueCreated     = "issue.created"
	IssueAnswered    = "issue.answered"
	IssueAccepted    = "issue.accepted"
	IssueRejected    = "issue.rejected"
	IssueDismissed   = "issue.dismissed"
	DetectionRun     = "detection.run"
	MaterialsChecked = "materials.checked"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is an event waiting to be appended.
type Record struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    EventPayload
}

// Buffer collects records until the change they describe is persisted.
type Buffer struct {
	Records []Record
}

func (b *Buffer) Record(r Record) {
	b.Records = append(b.Records, r)
}

func (w Writer) Append(ctx context.Context, ex Execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if ex == nil {
		ex = w.DB
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

// AppendAll writes records in one transaction.
func (w Writer) AppendAll(ctx context.Context, actorID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range records {
		if err := w.Append(ctx, tx, r.Type, r.EntityKind, r.EntityID, actorID, r.Payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
