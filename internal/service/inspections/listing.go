package inspections

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/repo"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type Summary struct {
	ID         inspection.ID     `json:"inspection_id"`
	Identifier string            `json:"identifier,omitempty"`
	Target     inspection.Target `json:"target,omitempty"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

type Page struct {
	Items []Summary `json:"inspections"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
	Total int       `json:"total"`
}

// ClampPage bounds the paging parameters: page is at least 1 and limit is
// between 1 and MaxPageLimit, with 0 meaning DefaultPageLimit.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultPageLimit
	case limit < 1:
		limit = 1
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return page, limit
}

// Lister pages through known inspections, from the registry when one is
// configured and otherwise from the ids present in the result store.
type Lister struct {
	registry repo.InspectionRepository
	results  ResultStore
}

func NewLister(registry repo.InspectionRepository, results ResultStore) (*Lister, error) {
	if registry == nil && results == nil {
		return nil, errors.New("registry or result store is required")
	}
	return &Lister{registry: registry, results: results}, nil
}

func (l *Lister) List(ctx context.Context, page, limit int) (Page, error) {
	page, limit = ClampPage(page, limit)
	out := Page{Page: page, Limit: limit, Items: []Summary{}}
	offset := (page - 1) * limit

	if l.registry != nil {
		total, err := l.registry.Count(ctx, repo.InspectionFilter{})
		if err != nil {
			return Page{}, inspection.Upstream("", "count inspections", err)
		}
		records, err := l.registry.List(ctx, repo.InspectionFilter{Limit: limit, Offset: offset})
		if err != nil {
			return Page{}, inspection.Upstream("", "list inspections", err)
		}
		out.Total = total
		for _, rec := range records {
			created := rec.CreatedAt
			out.Items = append(out.Items, Summary{
				ID:         rec.InspectionID,
				Identifier: rec.Identifier,
				Target:     rec.Target,
				CreatedAt:  &created,
				CreatedBy:  rec.CreatedBy,
			})
		}
		return out, nil
	}

	ids, err := l.results.ListIDs(ctx)
	if err != nil {
		return Page{}, inspection.Upstream("", "list inspections", err)
	}
	out.Total = len(ids)
	if offset >= len(ids) {
		return out, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[offset:end] {
		out.Items = append(out.Items, Summary{ID: id, Identifier: id.Identifier()})
	}
	return out, nil
}
