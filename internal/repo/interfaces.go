// Package repo defines the inspection registry: a record of every accepted
// inspection, independent of what the cluster or object storage still hold.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/animus-labs/animus-inspect/internal/inspection"
)

var ErrNotFound = errors.New("not found")

type InspectionRecord struct {
	RecordID      string
	InspectionID  inspection.ID
	Identifier    string
	Target        inspection.Target
	Specification json.RawMessage
	CreatedAt     time.Time
	CreatedBy     string
}

// AuditInfo describes the request that caused a registry write.
type AuditInfo struct {
	Actor      string
	RequestID  string
	RemoteAddr string
}

type InspectionFilter struct {
	Identifier string
	Limit      int
	Offset     int
}

type InspectionRepository interface {
	Create(ctx context.Context, record InspectionRecord, audit AuditInfo) (InspectionRecord, error)
	Get(ctx context.Context, id inspection.ID) (InspectionRecord, error)
	List(ctx context.Context, filter InspectionFilter) ([]InspectionRecord, error)
	Count(ctx context.Context, filter InspectionFilter) (int, error)
}
