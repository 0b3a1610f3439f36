package inspections

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/repo"
	"github.com/animus-labs/animus-inspect/internal/specification"
)

// Results reads stored inspection output. Nothing is cached.
type Results struct {
	store    ResultStore
	registry repo.InspectionRepository
}

func NewResults(store ResultStore) (*Results, error) {
	if store == nil {
		return nil, errors.New("result store is required")
	}
	return &Results{store: store}, nil
}

// WithRegistry lets Specification answer from the registry record while the
// workflow has not stored its copy yet.
func (r *Results) WithRegistry(registry repo.InspectionRepository) *Results {
	r.registry = registry
	return r
}

func (r *Results) BatchSize(ctx context.Context, id inspection.ID) (int, error) {
	return r.store.BatchSize(ctx, id)
}

func (r *Results) JobLog(ctx context.Context, id inspection.ID, item int) (string, error) {
	return r.store.JobLog(ctx, id, item)
}

func (r *Results) JobResult(ctx context.Context, id inspection.ID, item int) (any, error) {
	return r.store.JobResult(ctx, id, item)
}

func (r *Results) BuildLog(ctx context.Context, id inspection.ID) (string, error) {
	return r.store.BuildLog(ctx, id)
}

func (r *Results) Specification(ctx context.Context, id inspection.ID) (specification.Specification, error) {
	spec, err := r.store.Specification(ctx, id)
	if errors.Is(err, inspection.ErrNotFound) && r.registry != nil {
		return r.registered(ctx, id, err)
	}
	if err != nil {
		return specification.Specification{}, err
	}
	return spec.WithoutCreated(), nil
}

// registered returns the specification recorded at dispatch, or notFound when
// the registry has no record either.
func (r *Results) registered(ctx context.Context, id inspection.ID, notFound error) (specification.Specification, error) {
	record, err := r.registry.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return specification.Specification{}, notFound
	}
	if err != nil {
		return specification.Specification{}, inspection.Upstream(id, "read registry", err)
	}
	var spec specification.Specification
	if err := json.Unmarshal(record.Specification, &spec); err != nil {
		return specification.Specification{}, inspection.Upstream(id, "decode registry specification", err)
	}
	return spec.WithoutCreated(), nil
}
