// Command inspectctl compiles and validates specifications locally and
// talks to a running inspector.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-inspect/internal/dockerfile"
	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/env"
	"github.com/animus-labs/animus-inspect/internal/specification"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: inspectctl <command> [flags]

commands:
  dockerfile -f spec.yaml      print the Dockerfile for a specification
  validate   -f spec.yaml      check a specification
  id         [-identifier x]   generate an inspection id
  submit     -f spec.yaml      submit an inspection to a running inspector
  status     <inspection-id>   show the status of an inspection
             [-wait]           poll until the workflow succeeds or fails
`

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "dockerfile":
		err = runDockerfile(ctx, args[1:], stdout)
	case "validate":
		err = runValidate(args[1:], stdout)
	case "id":
		err = runID(args[1:], stdout)
	case "submit":
		err = runSubmit(ctx, args[1:], stdout)
	case "status":
		err = runStatus(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		err = usagef("unknown command %q", args[0])
	}

	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "inspectctl: %v\n\n%s", err, usage)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "inspectctl: %v\n", err)
		return exitFailure
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

func runDockerfile(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("dockerfile")
	file := fs.String("f", "", "specification file (.json, .yaml or .yml)")
	fetchTimeout := fs.Duration("fetch-timeout", 30*time.Second, "timeout for remote scripts")
	if err := parse(fs, args); err != nil {
		return err
	}
	spec, err := readSpecification(*file)
	if err != nil {
		return err
	}
	compiler := &dockerfile.Compiler{
		Fetcher:      dockerfile.NewHTTPScriptFetcher(*fetchTimeout),
		TrustedHosts: env.CSV("INSPECTOR_PIP_TRUSTED_HOSTS", nil),
	}
	artifact, err := compiler.Compile(ctx, specification.Normalize(spec, specification.DefaultRequests))
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, artifact.Dockerfile)
	return err
}

func runValidate(args []string, stdout io.Writer) error {
	fs := newFlagSet("validate")
	file := fs.String("f", "", "specification file (.json, .yaml or .yml)")
	if err := parse(fs, args); err != nil {
		return err
	}
	spec, err := readSpecification(*file)
	if err != nil {
		return err
	}
	if err := specification.Validate(spec); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s: ok\n", *file)
	return err
}

func runID(args []string, stdout io.Writer) error {
	fs := newFlagSet("id")
	identifier := fs.String("identifier", "", "label folded into the id")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := inspection.NewID(*identifier)
	if err != nil {
		return err
	}
	if !id.Valid() {
		return usagef("identifier %q is not a valid label", *identifier)
	}
	_, err = fmt.Fprintln(stdout, id)
	return err
}

func runSubmit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("submit")
	file := fs.String("f", "", "specification file (.json, .yaml or .yml)")
	c := clientFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return usagef("submit: -f is required")
	}
	body, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	out, err := c.do(ctx, http.MethodPost, "/api/v1/inspection", contentType(*file), body)
	if err != nil {
		return err
	}
	return c.print(stdout, out)
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("status")
	wait := fs.Bool("wait", false, "poll until the workflow succeeds or fails")
	interval := fs.Duration("interval", 5*time.Second, "poll interval with -wait")
	c := clientFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("status: expected exactly one inspection id")
	}
	id, err := inspection.ParseID(fs.Arg(0))
	if err != nil {
		return usagef("status: %v", err)
	}
	if *interval <= 0 {
		return usagef("status: -interval must be positive")
	}
	path := "/api/v1/inspection/" + url.PathEscape(id.String()) + "/status"

	for {
		out, err := c.do(ctx, http.MethodGet, path, "", nil)
		if err != nil {
			return err
		}
		state := workflowState(out)
		if !*wait || state.Terminal() {
			if err := c.print(stdout, out); err != nil {
				return err
			}
			if *wait && state == inspection.StateFailed {
				return fmt.Errorf("inspection %s failed", id)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(*interval):
		}
	}
}

// workflowState reads status.workflow.state from a status response. A missing
// workflow reads as unknown.
func workflowState(out any) inspection.State {
	body, _ := out.(map[string]any)
	status, _ := body["status"].(map[string]any)
	workflow, _ := status["workflow"].(map[string]any)
	state, _ := workflow["state"].(string)
	if state == "" {
		return inspection.StateUnknown
	}
	return inspection.State(state)
}

func readSpecification(path string) (specification.Specification, error) {
	if path == "" {
		return specification.Specification{}, usagef("-f is required")
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return specification.Specification{}, err
	}
	return specification.Decode(contentType(path), body)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/json"
	}
}

type client struct {
	server  *string
	token   *string
	output  *string
	timeout *time.Duration
	http    *http.Client
}

func clientFlags(fs *flag.FlagSet) *client {
	return &client{
		server:  fs.String("server", env.String("INSPECTOR_URL", "http://localhost:8080"), "inspector base url"),
		token:   fs.String("token", env.String("INSPECTOR_TOKEN", ""), "bearer token"),
		output:  fs.String("o", "json", "output format: json|yaml"),
		timeout: fs.Duration("timeout", 30*time.Second, "request timeout"),
	}
}

func (c *client) do(ctx context.Context, method, path, contentType string, body []byte) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, *c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(*c.server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if *c.token != "" {
		req.Header.Set("Authorization", "Bearer "+*c.token)
	}

	httpClient := c.http
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if m, ok := out.(map[string]any); ok {
			if e, ok := m["error"].(string); ok {
				msg = e
			}
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return out, nil
}

func (c *client) print(w io.Writer, v any) error {
	switch *c.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return usagef("unknown output format %q", *c.output)
	}
}
