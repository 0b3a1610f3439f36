package inspectionstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/specification"
	"github.com/animus-labs/animus-inspect/internal/storage/objectstore"
	"github.com/animus-labs/animus-inspect/internal/templating"
)

const testID = inspection.ID("inspection-test-0a1b2c3d")

func seeded(t *testing.T) (*Store, *objectstore.MemoryStore) {
	t.Helper()
	mem := objectstore.NewMemoryStore()
	for i := 0; i < 3; i++ {
		mem.PutBytes(JobLogKey(testID, i), []byte("log line"), "text/plain")
		mem.PutBytes(JobResultKey(testID, i), []byte(`{"exit_code":0,"stdout":{"ok":true}}`), "application/json")
	}
	mem.PutBytes(BuildLogKey(testID), []byte("STEP 1: FROM fedora:32"), "text/plain")
	s, err := New(mem)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return s, mem
}

func TestBatchSizeAndItems(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()

	n, err := s.BatchSize(ctx, testID)
	if err != nil || n != 3 {
		t.Fatalf("BatchSize()=%d, %v; want 3", n, err)
	}
	log, err := s.JobLog(ctx, testID, 2)
	if err != nil || log != "log line" {
		t.Fatalf("JobLog(2)=%q, %v", log, err)
	}
	res, err := s.JobResult(ctx, testID, 0)
	if err != nil {
		t.Fatalf("JobResult(0) err=%v", err)
	}
	if m, ok := res.(map[string]any); !ok || m["stdout"] == nil {
		t.Fatalf("JobResult(0)=%#v", res)
	}

	for _, item := range []int{7, -1} {
		_, err = s.JobLog(ctx, testID, item)
		var nf *inspection.NotFoundError
		if !errors.As(err, &nf) || nf.Item == nil || *nf.Item != item {
			t.Fatalf("JobLog(%d) err=%v, want item NotFoundError", item, err)
		}
		if _, err := s.JobResult(ctx, testID, item); !errors.Is(err, inspection.ErrNotFound) {
			t.Fatalf("JobResult(%d) err=%v, want ErrNotFound", item, err)
		}
	}

	if _, err := s.BatchSize(ctx, "inspection-0b1b2c3d"); !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("BatchSize(unknown) err=%v, want ErrNotFound", err)
	}
}

func TestJobResultMalformed(t *testing.T) {
	s, mem := seeded(t)
	mem.PutBytes(JobResultKey(testID, 1), []byte("{not json"), "application/json")
	_, err := s.JobResult(context.Background(), testID, 1)
	var up *inspection.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("JobResult(malformed) err=%v, want UpstreamError", err)
	}
}

func TestBuildLogAndExists(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()

	log, err := s.BuildLog(ctx, testID)
	if err != nil || log == "" {
		t.Fatalf("BuildLog()=%q, %v", log, err)
	}
	if _, err := s.BuildLog(ctx, "inspection-0b1b2c3d"); !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("BuildLog(unknown) err=%v, want ErrNotFound", err)
	}

	ok, err := s.Exists(ctx, testID)
	if err != nil || !ok {
		t.Fatalf("Exists()=%v, %v; want true", ok, err)
	}
	ok, err = s.Exists(ctx, "inspection-0b1b2c3d")
	if err != nil || ok {
		t.Fatalf("Exists(unknown)=%v, %v; want false", ok, err)
	}
}

func TestSpecificationRoundTrip(t *testing.T) {
	s, mem := seeded(t)
	script := "echo 'hello'"
	batch := 4
	spec := specification.Specification{
		Base:      "fedora:32",
		Packages:  []string{"gcc"},
		Script:    &script,
		BatchSize: &batch,
		Created:   "2024-05-01T10:00:00.000000",
	}
	tree, err := templating.EscapeSpecification(spec)
	if err != nil {
		t.Fatalf("EscapeSpecification() err=%v", err)
	}
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mem.PutBytes(SpecificationKey(testID), data, "application/json")

	got, err := s.Specification(context.Background(), testID)
	if err != nil {
		t.Fatalf("Specification() err=%v", err)
	}
	if got.Created != "" {
		t.Fatalf("Created=%q, want stripped", got.Created)
	}
	if got.Script == nil || *got.Script != script {
		t.Fatalf("Script=%v, want %q", got.Script, script)
	}
	if got.BatchSize == nil || *got.BatchSize != 4 {
		t.Fatalf("BatchSize=%v, want 4", got.BatchSize)
	}

	if _, err := s.Specification(context.Background(), "inspection-0b1b2c3d"); !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("Specification(unknown) err=%v, want ErrNotFound", err)
	}
}

func TestListIDs(t *testing.T) {
	s, mem := seeded(t)
	mem.PutBytes("inspection-00000000/build/log", []byte("x"), "text/plain")
	mem.PutBytes("not-an-inspection/file", []byte("x"), "text/plain")
	mem.PutBytes("README", []byte("x"), "text/plain")

	ids, err := s.ListIDs(context.Background())
	if err != nil {
		t.Fatalf("ListIDs() err=%v", err)
	}
	if len(ids) != 2 || ids[0] != "inspection-00000000" || ids[1] != testID {
		t.Fatalf("ListIDs()=%v", ids)
	}
}
