package dockerfile

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/animus-labs/animus-inspect/internal/specification"
)

func ptr[T any](v T) *T { return &v }

func newCompiler() *Compiler {
	return &Compiler{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

type fakeFetcher struct {
	body  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls++
	return f.body, f.err
}

var writePattern = regexp.MustCompile(`echo '([A-Za-z0-9+/=]*)' \| base64 -d > '([^']*)'`)

// decodedFiles maps every materialized path to its decoded content.
func decodedFiles(t *testing.T, dockerfile string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, m := range writePattern.FindAllStringSubmatch(dockerfile, -1) {
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			t.Fatalf("decode payload for %s: %v", m[2], err)
		}
		out[m[2]] = string(data)
	}
	return out
}

func directives(dockerfile string) []string {
	var out []string
	for _, block := range strings.Split(strings.TrimSuffix(dockerfile, "\n"), "\n\n") {
		out = append(out, strings.Fields(block)[0])
	}
	return out
}

func TestCompile_BuildOnly(t *testing.T) {
	art, err := newCompiler().Compile(context.Background(), specification.Specification{Base: "fedora:31"})
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if art.ExecutionRequested {
		t.Fatalf("ExecutionRequested=true, want false")
	}
	want := "FROM fedora:31\n\nUSER root\n\nUSER 1042\n\nWORKDIR /home/inspector\n"
	if art.Dockerfile != want {
		t.Fatalf("Dockerfile=\n%s\nwant\n%s", art.Dockerfile, want)
	}
}

func TestCompile_ScenarioScriptAndPackages(t *testing.T) {
	spec := specification.Specification{Base: "fedora:31", Packages: []string{"git"}, Script: ptr("echo hi")}
	art, err := newCompiler().Compile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if !art.ExecutionRequested {
		t.Fatalf("ExecutionRequested=false, want true")
	}
	if !strings.Contains(art.Dockerfile, "$INSTALL_CMD 'git'") {
		t.Fatalf("missing install directive for git:\n%s", art.Dockerfile)
	}
	files := decodedFiles(t, art.Dockerfile)
	if files[ScriptPath] != "echo hi" {
		t.Fatalf("script=%q, want echo hi", files[ScriptPath])
	}
	if files[Entrypoint] != EntrypointScript() {
		t.Fatalf("entrypoint not materialized")
	}
	if !strings.Contains(art.Dockerfile, `CMD ["/home/inspector/entrypoint"]`) {
		t.Fatalf("default command is not the runner:\n%s", art.Dockerfile)
	}
	if strings.Contains(art.Dockerfile, `CMD ["/home/inspector/script"]`) {
		t.Fatalf("default command is the raw script")
	}
	if !strings.HasSuffix(art.Dockerfile, "USER 1042\n\nWORKDIR /home/inspector\n") {
		t.Fatalf("artifact does not end with privilege drop and workdir:\n%s", art.Dockerfile)
	}
}

func TestCompile_InstructionOrder(t *testing.T) {
	spec := specification.Specification{
		Base:           "ubi8",
		Update:         true,
		Packages:       []string{"gcc"},
		PythonPackages: []string{"pip"},
		Environment:    []specification.EnvVar{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}},
		Files:          []specification.File{{Path: "/tmp/a", Content: "a"}},
		Python: &specification.Python{
			Requirements:       map[string]any{"packages": map[string]any{"flask": "*"}},
			RequirementsLocked: map[string]any{"default": map[string]any{}},
		},
		Script: ptr("print(1)"),
	}
	art, err := newCompiler().Compile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	blocks := strings.Split(strings.TrimSuffix(art.Dockerfile, "\n"), "\n\n")
	wantPrefixes := []string{
		"FROM ubi8",
		"USER root",
		`ENV A="1" B="2"`,
		"RUN dnf update -y || yum update -y || apt-get update -y",
		"RUN { \\",
		"RUN pip3 install --force-reinstall --upgrade 'pip'",
		`RUN mkdir -p "$(dirname '/tmp/a')"`,
		"RUN mkdir -p /home/inspector && chmod -R 777 /home/inspector",
		`RUN mkdir -p "$(dirname '/home/inspector/Pipfile')"`,
		`RUN mkdir -p "$(dirname '/home/inspector/Pipfile.lock')"`,
		`RUN mkdir -p "$(dirname '/etc/pip.conf')"`,
		"RUN cd /home/inspector && python3 -m venv venv/ && . venv/bin/activate && micropipenv install --deploy",
		`RUN mkdir -p "$(dirname '/home/inspector/script')"`,
		`RUN mkdir -p "$(dirname '/home/inspector/entrypoint')"`,
		"RUN chmod a+x /home/inspector/script /home/inspector/entrypoint",
		`CMD ["/home/inspector/entrypoint"]`,
		"USER 1042",
		"WORKDIR /home/inspector",
	}
	if len(blocks) != len(wantPrefixes) {
		t.Fatalf("directives=%v, want %d of them", directives(art.Dockerfile), len(wantPrefixes))
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(blocks[i], prefix) {
			t.Fatalf("directive %d=%q, want prefix %q", i, blocks[i], prefix)
		}
	}
}

func TestCompile_FilesAreNotExpanded(t *testing.T) {
	content := "export PATH=$HOME/bin:$PATH\necho \"it's\" '${X}'\n\\n literal\n"
	spec := specification.Specification{Base: "x", Files: []specification.File{{Path: "/etc/it's.sh", Content: content}}}
	art, err := newCompiler().Compile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if strings.Contains(art.Dockerfile, "$HOME") {
		t.Fatalf("content leaked unencoded into the Dockerfile:\n%s", art.Dockerfile)
	}
	line := writePattern.FindStringSubmatch(art.Dockerfile)
	if line == nil {
		t.Fatalf("no file directive in:\n%s", art.Dockerfile)
	}
	data, _ := base64.StdEncoding.DecodeString(line[1])
	if string(data) != content {
		t.Fatalf("content=%q, want %q", data, content)
	}
	if !strings.Contains(art.Dockerfile, `> '/etc/it'"'"'s.sh'`) {
		t.Fatalf("path not single-quoted:\n%s", art.Dockerfile)
	}
}

func TestCompile_EnvironmentQuoting(t *testing.T) {
	spec := specification.Specification{Base: "x", Environment: []specification.EnvVar{
		{Name: "MSG", Value: `say "hi" \ $USER`},
	}}
	art, err := newCompiler().Compile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	want := `ENV MSG="say \"hi\" \\ \$USER"`
	if !strings.Contains(art.Dockerfile, want) {
		t.Fatalf("Dockerfile=\n%s\nwant line %s", art.Dockerfile, want)
	}
}

func TestCompile_Python(t *testing.T) {
	py := &specification.Python{
		Requirements: map[string]any{
			"source":   []any{map[string]any{"name": "aicoe", "url": "https://tensorflow.pypi.example.org/simple", "verify_ssl": true}},
			"packages": map[string]any{"tensorflow": "*"},
		},
		RequirementsLocked: map[string]any{
			"default": map[string]any{"tensorflow": map[string]any{"version": "==2.1.0"}},
			"_meta":   map[string]any{"pipfile-spec": 6},
		},
		PackageManager: "pipenv",
	}
	c := newCompiler()
	c.TrustedHosts = []string{"pypi.org"}
	art, err := c.Compile(context.Background(), specification.Specification{Base: "x", Python: py})
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if art.ExecutionRequested {
		t.Fatalf("ExecutionRequested=true without script")
	}
	files := decodedFiles(t, art.Dockerfile)

	if !strings.Contains(files[HomeDir+"/Pipfile"], `tensorflow = '*'`) {
		t.Fatalf("Pipfile=\n%s", files[HomeDir+"/Pipfile"])
	}
	lock := files[HomeDir+"/Pipfile.lock"]
	if !strings.HasPrefix(lock, "{\n    \"_meta\": {") {
		t.Fatalf("Pipfile.lock not sorted/indented:\n%s", lock)
	}
	if got := files["/etc/pip.conf"]; got != "[global]\ntrusted-host = pypi.org tensorflow.pypi.example.org\n" {
		t.Fatalf("pip.conf=%q", got)
	}
	if !strings.Contains(art.Dockerfile, "RUN cd /home/inspector && pipenv install --deploy") {
		t.Fatalf("pipenv install missing:\n%s", art.Dockerfile)
	}
}

func TestCompile_PythonWithoutRequirements(t *testing.T) {
	art, err := newCompiler().Compile(context.Background(), specification.Specification{Base: "x", Python: &specification.Python{}})
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if strings.Contains(art.Dockerfile, "Pipfile") || strings.Contains(art.Dockerfile, "install --deploy") {
		t.Fatalf("nothing should be installed:\n%s", art.Dockerfile)
	}
	if !strings.Contains(art.Dockerfile, "RUN mkdir -p /home/inspector") {
		t.Fatalf("home scaffold missing:\n%s", art.Dockerfile)
	}
}

func TestCompile_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		spec specification.Specification
	}{
		{name: "missing base", spec: specification.Specification{}},
		{name: "requirements only", spec: specification.Specification{Base: "x", Python: &specification.Python{
			Requirements: map[string]any{"packages": map[string]any{"a": "*"}},
		}}},
		{name: "unknown package manager", spec: specification.Specification{Base: "x", Python: &specification.Python{PackageManager: "conda"}}},
		{name: "line break in base", spec: specification.Specification{Base: "fedora:31\nUSER 0"}},
		{name: "line break in package", spec: specification.Specification{Base: "x", Packages: []string{"git\nCMD [\"/bin/evil\"]"}}},
		{name: "line break in python package", spec: specification.Specification{Base: "x", PythonPackages: []string{"six\rRUN id"}}},
		{name: "line break in file path", spec: specification.Specification{Base: "x", Files: []specification.File{{Path: "/etc/x\nENTRYPOINT [\"/bin/evil\"]", Content: "y"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			art, err := newCompiler().Compile(context.Background(), tc.spec)
			var verr *specification.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Compile() err=%v, want *ValidationError", err)
			}
			if art != (Artifact{}) {
				t.Fatalf("Compile() returned a partial artifact: %+v", art)
			}
		})
	}
}

func TestCompile_RemoteScript(t *testing.T) {
	fetcher := &fakeFetcher{body: "#!/usr/bin/env python3\nprint('remote')\n"}
	c := newCompiler()
	c.Fetcher = fetcher
	art, err := c.Compile(context.Background(), specification.Specification{Base: "x", Script: ptr("https://example.org/s.py")})
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("fetch calls=%d, want 1", fetcher.calls)
	}
	if got := decodedFiles(t, art.Dockerfile)[ScriptPath]; got != fetcher.body {
		t.Fatalf("script=%q, want fetched body", got)
	}
}

func TestCompile_RemoteScriptFailure(t *testing.T) {
	c := newCompiler()
	c.Fetcher = &fakeFetcher{err: &ScriptFetchError{URL: "https://example.org/s.py", StatusCode: 404}}
	art, err := c.Compile(context.Background(), specification.Specification{Base: "x", Script: ptr("https://example.org/s.py")})
	var ferr *ScriptFetchError
	if !errors.As(err, &ferr) || ferr.StatusCode != 404 {
		t.Fatalf("Compile() err=%v, want *ScriptFetchError with 404", err)
	}
	if art.Dockerfile != "" {
		t.Fatalf("partial artifact returned")
	}

	c.Fetcher = nil
	if _, err := c.Compile(context.Background(), specification.Specification{Base: "x", Script: ptr("http://example.org/s")}); !errors.As(err, &ferr) {
		t.Fatalf("Compile() without fetcher err=%v, want *ScriptFetchError", err)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	spec := specification.Specification{
		Base: "x",
		Python: &specification.Python{
			Requirements:       map[string]any{"packages": map[string]any{"a": "*", "b": "*", "c": "*"}},
			RequirementsLocked: map[string]any{"default": map[string]any{"a": map[string]any{}, "b": map[string]any{}}},
		},
	}
	first, err := newCompiler().Compile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := newCompiler().Compile(context.Background(), spec)
		if err != nil {
			t.Fatalf("Compile() err=%v", err)
		}
		if again != first {
			t.Fatalf("Compile() is not deterministic")
		}
	}
}

func TestHTTPScriptFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("echo ok"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &HTTPScriptFetcher{Client: srv.Client(), MaxBytes: 32}
	got, err := f.Fetch(context.Background(), srv.URL+"/ok")
	if err != nil || got != "echo ok" {
		t.Fatalf("Fetch(ok)=%q err=%v", got, err)
	}

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var ferr *ScriptFetchError
	if !errors.As(err, &ferr) || ferr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch(missing) err=%v, want 404 ScriptFetchError", err)
	}
	if !strings.Contains(ferr.Error(), "HTTP status: 404") {
		t.Fatalf("error=%q", ferr.Error())
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); !errors.As(err, &ferr) {
		t.Fatalf("Fetch(big) err=%v, want ScriptFetchError", err)
	}
}

func TestEntrypointScriptReportFields(t *testing.T) {
	script := EntrypointScript()
	for _, field := range []string{
		`"exit_code"`, `"usage"`, `"os_release"`, `"hwinfo"`, `"runtime_environment"`,
		`"operating_system"`, `"python_version"`, `"cpu_family"`, `"cpu_model"`, "RUSAGE_CHILDREN",
	} {
		if !strings.Contains(script, field) {
			t.Fatalf("EntrypointScript() does not report %s", field)
		}
	}
}
