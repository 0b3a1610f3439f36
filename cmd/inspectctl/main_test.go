package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/animus-labs/animus-inspect/internal/inspection"
)

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestDockerfileFromYAML(t *testing.T) {
	path := writeSpec(t, "spec.yaml", "base: fedora:38\npackages: [gcc]\n")
	code, out, stderr := runCmd(t, "dockerfile", "-f", path)
	if code != exitOK {
		t.Fatalf("exit=%d, want 0 (%s)", code, stderr)
	}
	if !strings.HasPrefix(out, "FROM fedora:38\n") {
		t.Fatalf("dockerfile=%q, want FROM fedora:38 first", out)
	}
}

func TestValidate(t *testing.T) {
	ok := writeSpec(t, "ok.json", `{"base":"fedora:38"}`)
	if code, out, _ := runCmd(t, "validate", "-f", ok); code != exitOK || !strings.HasSuffix(out, ": ok\n") {
		t.Fatalf("validate ok=%d %q", code, out)
	}

	bad := writeSpec(t, "bad.json", `{"packages":["gcc"]}`)
	code, _, stderr := runCmd(t, "validate", "-f", bad)
	if code != exitFailure {
		t.Fatalf("validate bad exit=%d, want 1", code)
	}
	if !strings.Contains(stderr, "specification validation failed") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestID(t *testing.T) {
	code, out, _ := runCmd(t, "id", "-identifier", "nightly")
	if code != exitOK || !strings.HasPrefix(out, "inspection-nightly-") {
		t.Fatalf("id=%d %q", code, out)
	}
	if code, _, _ := runCmd(t, "id", "-identifier", "Not_Valid"); code != exitUsage {
		t.Fatalf("invalid identifier exit=%d, want 2", code)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"frobnicate"},
		{"validate"},
		{"status"},
		{"status", "not-an-id"},
		{"dockerfile", "-nope"},
	} {
		if code, _, _ := runCmd(t, args...); code != exitUsage {
			t.Fatalf("run(%q) exit=%d, want 2", args, code)
		}
	}
}

func TestSubmitAndStatus(t *testing.T) {
	var gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/inspection":
			gotType = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "fedora") {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"missing base"}`)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"inspection_id":"inspection-0a1b2c3d","parameters":{"base":"fedora:38"}}`)
		case r.URL.Path == "/api/v1/inspection/inspection-0a1b2c3d/status":
			_, _ = io.WriteString(w, `{"status":{"build":{"state":"running"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"no inspection found"}`)
		}
	}))
	defer srv.Close()

	path := writeSpec(t, "spec.yml", "base: fedora:38\n")
	code, out, stderr := runCmd(t, "submit", "-server", srv.URL, "-token", "abc", "-f", path)
	if code != exitOK {
		t.Fatalf("submit exit=%d (%s)", code, stderr)
	}
	if !strings.Contains(out, `"inspection_id": "inspection-0a1b2c3d"`) {
		t.Fatalf("submit output=%q", out)
	}
	if gotAuth != "Bearer abc" || gotType != "application/yaml" {
		t.Fatalf("auth=%q type=%q", gotAuth, gotType)
	}

	code, out, _ = runCmd(t, "status", "-server", srv.URL, "-o", "yaml", "inspection-0a1b2c3d")
	if code != exitOK || !strings.Contains(out, "state: running") {
		t.Fatalf("status=%d %q", code, out)
	}

	code, _, stderr = runCmd(t, "status", "-server", srv.URL, "inspection-ffffffff")
	if code != exitFailure || !strings.Contains(stderr, "no inspection found") {
		t.Fatalf("missing status=%d %q", code, stderr)
	}
}

func TestStatusWait(t *testing.T) {
	var mu sync.Mutex
	polls := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls[r.URL.Path]++
		n := polls[r.URL.Path]
		mu.Unlock()

		final := "succeeded"
		if strings.Contains(r.URL.Path, "inspection-ffffffff") {
			final = "failed"
		}
		w.Header().Set("Content-Type", "application/json")
		switch n {
		case 1:
			_, _ = io.WriteString(w, `{"status":{"build":{"state":"running"},"workflow":null}}`)
		case 2:
			_, _ = io.WriteString(w, `{"status":{"workflow":{"state":"running"}}}`)
		default:
			_, _ = io.WriteString(w, `{"status":{"workflow":{"state":"`+final+`"}}}`)
		}
	}))
	defer srv.Close()

	code, out, stderr := runCmd(t, "status", "-server", srv.URL, "-wait", "-interval", "1ms", "inspection-0a1b2c3d")
	if code != exitOK {
		t.Fatalf("status -wait exit=%d (%s)", code, stderr)
	}
	mu.Lock()
	n := polls["/api/v1/inspection/inspection-0a1b2c3d/status"]
	mu.Unlock()
	if n != 3 {
		t.Fatalf("polls=%d, want 3", n)
	}
	if strings.Count(out, `"workflow"`) != 1 || !strings.Contains(out, `"state": "succeeded"`) {
		t.Fatalf("status -wait output=%q, want only the final status", out)
	}

	code, _, stderr = runCmd(t, "status", "-server", srv.URL, "-wait", "-interval", "1ms", "inspection-ffffffff")
	if code != exitFailure || !strings.Contains(stderr, "inspection-ffffffff failed") {
		t.Fatalf("status -wait on failed workflow exit=%d %q", code, stderr)
	}

	if code, _, _ := runCmd(t, "status", "-server", srv.URL, "-wait", "-interval", "0s", "inspection-0a1b2c3d"); code != exitUsage {
		t.Fatalf("status -interval 0s exit=%d, want 2", code)
	}
}

func TestWorkflowState(t *testing.T) {
	cases := []struct {
		body string
		want inspection.State
	}{
		{`{"status":{"workflow":{"state":"failed"}}}`, inspection.StateFailed},
		{`{"status":{"workflow":null}}`, inspection.StateUnknown},
		{`{"status":{}}`, inspection.StateUnknown},
		{`[]`, inspection.StateUnknown},
	}
	for _, tc := range cases {
		var out any
		if err := json.Unmarshal([]byte(tc.body), &out); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.body, err)
		}
		if got := workflowState(out); got != tc.want {
			t.Fatalf("workflowState(%s)=%q, want %q", tc.body, got, tc.want)
		}
	}
}
