// Package inspectionstore reads what inspection workflows leave behind in
// object storage.
//
// Layout, relative to the store prefix:
//
//	<id>/specification
//	<id>/build/log
//	<id>/results/<item>/log
//	<id>/results/<item>/result
package inspectionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/specification"
	"github.com/animus-labs/animus-inspect/internal/storage/objectstore"
	"github.com/animus-labs/animus-inspect/internal/templating"
)

const maxDocumentBytes = 32 << 20

type Store struct {
	objects objectstore.Store
}

func New(objects objectstore.Store) (*Store, error) {
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	return &Store{objects: objects}, nil
}

func SpecificationKey(id inspection.ID) string {
	return string(id) + "/specification"
}

func BuildLogKey(id inspection.ID) string {
	return string(id) + "/build/log"
}

func resultsPrefix(id inspection.ID) string {
	return string(id) + "/results/"
}

func JobLogKey(id inspection.ID, item int) string {
	return resultsPrefix(id) + strconv.Itoa(item) + "/log"
}

func JobResultKey(id inspection.ID, item int) string {
	return resultsPrefix(id) + strconv.Itoa(item) + "/result"
}

// Exists reports whether anything at all was stored for id.
func (s *Store) Exists(ctx context.Context, id inspection.ID) (bool, error) {
	entries, err := s.objects.List(ctx, string(id)+"/", false)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// BatchSize is the number of run results stored for id.
func (s *Store) BatchSize(ctx context.Context, id inspection.ID) (int, error) {
	entries, err := s.objects.List(ctx, resultsPrefix(id), false)
	if err != nil {
		return 0, inspection.Upstream(id, "list results", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	if n == 0 {
		return 0, inspection.NotFound("results", id)
	}
	return n, nil
}

func (s *Store) JobLog(ctx context.Context, id inspection.ID, item int) (string, error) {
	if item < 0 {
		return "", inspection.ItemNotFound("log", id, item)
	}
	data, err := s.read(ctx, id, JobLogKey(id, item), "read job log")
	if errors.Is(err, objectstore.ErrNotFound) {
		return "", inspection.ItemNotFound("log", id, item)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JobResult returns the decoded JSON report of one run.
func (s *Store) JobResult(ctx context.Context, id inspection.ID, item int) (any, error) {
	if item < 0 {
		return nil, inspection.ItemNotFound("result", id, item)
	}
	data, err := s.read(ctx, id, JobResultKey(id, item), "read job result")
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, inspection.ItemNotFound("result", id, item)
	}
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, inspection.Upstream(id, "decode job result", err)
	}
	return out, nil
}

func (s *Store) BuildLog(ctx context.Context, id inspection.ID) (string, error) {
	data, err := s.read(ctx, id, BuildLogKey(id), "read build log")
	if errors.Is(err, objectstore.ErrNotFound) {
		return "", inspection.NotFound("build log", id)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Specification returns the submitted specification with template escaping
// undone and the @created marker removed.
func (s *Store) Specification(ctx context.Context, id inspection.ID) (specification.Specification, error) {
	data, err := s.read(ctx, id, SpecificationKey(id), "read specification")
	if errors.Is(err, objectstore.ErrNotFound) {
		return specification.Specification{}, inspection.NotFound("specification", id)
	}
	if err != nil {
		return specification.Specification{}, err
	}
	tree, err := templating.DecodeTree(data)
	if err != nil {
		return specification.Specification{}, inspection.Upstream(id, "decode specification", err)
	}
	spec, err := templating.UnescapeSpecification(tree)
	if err != nil {
		return specification.Specification{}, inspection.Upstream(id, "decode specification", err)
	}
	return spec.WithoutCreated(), nil
}

// ListIDs returns the inspection ids that have stored data, sorted.
func (s *Store) ListIDs(ctx context.Context) ([]inspection.ID, error) {
	entries, err := s.objects.List(ctx, "", false)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	var out []inspection.ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := inspection.ID(strings.TrimSuffix(e.Key, "/"))
		if id.Valid() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) read(ctx context.Context, id inspection.ID, key, op string) ([]byte, error) {
	data, err := objectstore.ReadAll(ctx, s.objects, key, maxDocumentBytes)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, err
		}
		return nil, inspection.Upstream(id, op, err)
	}
	return data, nil
}
