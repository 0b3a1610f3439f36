package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/auditlog"
	"github.com/animus-labs/animus-inspect/internal/repo"
)

type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const (
	insertInspectionQuery = `INSERT INTO inspections (
			record_id,
			inspection_id,
			identifier,
			target,
			specification,
			created_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectInspectionColumns = `SELECT record_id, inspection_id, identifier, target, specification, created_at, created_by FROM inspections`

	selectInspectionByIDQuery = selectInspectionColumns + ` WHERE inspection_id = $1`
)

type InspectionStore struct {
	db DB
}

func NewInspectionStore(db DB) *InspectionStore {
	if db == nil {
		return nil
	}
	return &InspectionStore{db: db}
}

// Create stores record and its inspection.submitted audit event in one
// transaction.
func (s *InspectionStore) Create(ctx context.Context, record repo.InspectionRecord, audit repo.AuditInfo) (repo.InspectionRecord, error) {
	if s == nil || s.db == nil {
		return repo.InspectionRecord{}, fmt.Errorf("inspection store not initialized")
	}
	if !record.InspectionID.Valid() {
		return repo.InspectionRecord{}, fmt.Errorf("invalid inspection id %q", record.InspectionID)
	}
	if len(record.Specification) == 0 {
		return repo.InspectionRecord{}, errors.New("specification is required")
	}
	if strings.TrimSpace(record.RecordID) == "" {
		record.RecordID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if strings.TrimSpace(record.CreatedBy) == "" {
		record.CreatedBy = "anonymous"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repo.InspectionRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertInspectionQuery,
		record.RecordID,
		record.InspectionID.String(),
		record.Identifier,
		string(record.Target),
		[]byte(record.Specification),
		record.CreatedAt,
		record.CreatedBy,
	); err != nil {
		return repo.InspectionRecord{}, fmt.Errorf("insert inspection: %w", err)
	}

	actor := audit.Actor
	if strings.TrimSpace(actor) == "" {
		actor = record.CreatedBy
	}
	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   record.CreatedAt,
		Actor:        actor,
		Action:       auditlog.ActionInspectionSubmitted,
		ResourceType: auditlog.ResourceInspection,
		ResourceID:   record.InspectionID.String(),
		RequestID:    audit.RequestID,
		RemoteAddr:   audit.RemoteAddr,
		Payload: map[string]any{
			"record_id":  record.RecordID,
			"identifier": record.Identifier,
			"target":     string(record.Target),
		},
	}); err != nil {
		return repo.InspectionRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return repo.InspectionRecord{}, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

func (s *InspectionStore) Get(ctx context.Context, id inspection.ID) (repo.InspectionRecord, error) {
	if s == nil || s.db == nil {
		return repo.InspectionRecord{}, fmt.Errorf("inspection store not initialized")
	}
	rec, err := scanInspection(s.db.QueryRowContext(ctx, selectInspectionByIDQuery, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return repo.InspectionRecord{}, repo.ErrNotFound
	}
	return rec, err
}

// List returns records newest first.
func (s *InspectionStore) List(ctx context.Context, filter repo.InspectionFilter) ([]repo.InspectionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("inspection store not initialized")
	}
	where, args := filterClause(filter)
	query := selectInspectionColumns + where + " ORDER BY created_at DESC, inspection_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	defer rows.Close()

	var out []repo.InspectionRecord
	for rows.Next() {
		rec, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	return out, nil
}

func (s *InspectionStore) Count(ctx context.Context, filter repo.InspectionFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("inspection store not initialized")
	}
	where, args := filterClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inspections`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count inspections: %w", err)
	}
	return n, nil
}

func filterClause(filter repo.InspectionFilter) (string, []any) {
	if strings.TrimSpace(filter.Identifier) == "" {
		return "", nil
	}
	return " WHERE identifier = $1", []any{strings.TrimSpace(filter.Identifier)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInspection(row rowScanner) (repo.InspectionRecord, error) {
	var (
		rec    repo.InspectionRecord
		id     string
		target string
		spec   []byte
	)
	if err := row.Scan(&rec.RecordID, &id, &rec.Identifier, &target, &spec, &rec.CreatedAt, &rec.CreatedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.InspectionRecord{}, err
		}
		return repo.InspectionRecord{}, fmt.Errorf("scan inspection: %w", err)
	}
	rec.InspectionID = inspection.ID(id)
	rec.Target = inspection.Target(target)
	rec.Specification = spec
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
