// Package auditlog appends tamper-evident events to the audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ActionInspectionSubmitted = "inspection.submitted"
	ResourceInspection        = "inspection"
)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	RemoteAddr   string
	Payload      any
}

// QueryRower is satisfied by *sql.DB and *sql.Tx, so events can be written
// inside the transaction of the change they describe.
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) normalized() Event {
	e.OccurredAt = e.OccurredAt.UTC()
	e.Actor = strings.TrimSpace(e.Actor)
	e.Action = strings.TrimSpace(e.Action)
	e.ResourceType = strings.TrimSpace(e.ResourceType)
	e.ResourceID = strings.TrimSpace(e.ResourceID)
	e.RequestID = strings.TrimSpace(e.RequestID)
	e.RemoteAddr = strings.TrimSpace(e.RemoteAddr)
	return e
}

func (e Event) Validate() error {
	e = e.normalized()
	var missing []string
	if e.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	for _, f := range []struct{ name, value string }{
		{"actor", e.Actor},
		{"action", e.Action},
		{"resource_type", e.ResourceType},
		{"resource_id", e.ResourceID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit event missing %s", strings.Join(missing, ", "))
	}
	return nil
}

const insertEvent = `INSERT INTO audit_events (
	occurred_at, actor, action, resource_type, resource_id,
	request_id, remote_addr, payload, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING event_id`

// Insert stores event and returns its sequence number. A zero OccurredAt
// is stamped with the current time.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("audit log: no database handle")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event = event.normalized()
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload, err := marshalPayload(event.Payload)
	if err != nil {
		return 0, err
	}
	sum, err := Integrity(event, payload)
	if err != nil {
		return 0, err
	}

	var seq int64
	row := q.QueryRowContext(ctx, insertEvent,
		event.OccurredAt,
		event.Actor,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		nullable(event.RequestID),
		nullable(event.RemoteAddr),
		payload,
		sum,
	)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("insert audit event %s: %w", event.Action, err)
	}
	return seq, nil
}

// Integrity is the hex sha256 of the canonical JSON form of event. Stored
// next to the row, it lets later edits be detected.
func Integrity(event Event, payloadJSON []byte) (string, error) {
	event = event.normalized()
	canonical := struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		RequestID    string          `json:"request_id,omitempty"`
		RemoteAddr   string          `json:"remote_addr,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}{
		event.OccurredAt,
		event.Actor,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.RequestID,
		event.RemoteAddr,
		payloadJSON,
	}
	blob, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("audit integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit payload: %w", err)
	}
	return out, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
