package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/k8s"
)

type fakeCluster struct {
	pods          map[string]k8s.Pod
	podErr        error
	jobs          []k8s.Job
	workflows     []k8s.Workflow
	listErr       error
	templates     map[string]k8s.WorkflowTemplate
	templateCalls int
	created       []k8s.Workflow
	createErr     error
	lastSelector  string
	lastNamespace string
}

func (f *fakeCluster) GetPod(_ context.Context, namespace, name string) (k8s.Pod, error) {
	f.lastNamespace = namespace
	if f.podErr != nil {
		return k8s.Pod{}, f.podErr
	}
	pod, ok := f.pods[name]
	if !ok {
		return k8s.Pod{}, k8s.ErrNotFound
	}
	return pod, nil
}

func (f *fakeCluster) ListJobs(_ context.Context, _ string, selector string) ([]k8s.Job, error) {
	f.lastSelector = selector
	return f.jobs, f.listErr
}

func (f *fakeCluster) ListWorkflows(_ context.Context, _ string, selector string) ([]k8s.Workflow, error) {
	f.lastSelector = selector
	return f.workflows, f.listErr
}

func (f *fakeCluster) GetWorkflowTemplate(_ context.Context, namespace, name string) (k8s.WorkflowTemplate, error) {
	f.templateCalls++
	f.lastNamespace = namespace
	tmpl, ok := f.templates[name]
	if !ok {
		return k8s.WorkflowTemplate{}, k8s.ErrNotFound
	}
	return tmpl, nil
}

func (f *fakeCluster) CreateWorkflow(_ context.Context, namespace string, wf k8s.Workflow) (k8s.Workflow, error) {
	if f.createErr != nil {
		return k8s.Workflow{}, f.createErr
	}
	wf.Metadata.Namespace = namespace
	f.created = append(f.created, wf)
	return wf, nil
}

func testConfig() Config {
	return Config{
		InspectionNamespace: "inspections",
		InfraNamespace:      "infra",
		Template:            "inspection",
		HardwareTemplate:    "inspection-hw",
		TemplateCacheTTL:    time.Minute,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const templateSpec = `{"entrypoint":"main","arguments":{"parameters":[{"name":"target","value":"inspection-build"},{"name":"dockerfile"},{"name":"registry","value":"quay.io"}]}}`

func TestArgoSubmitterMergesParameters(t *testing.T) {
	cluster := &fakeCluster{templates: map[string]k8s.WorkflowTemplate{
		"inspection": {Spec: json.RawMessage(templateSpec)},
	}}
	s, err := NewArgoSubmitter(cluster, testConfig(), discard())
	if err != nil {
		t.Fatalf("NewArgoSubmitter() err=%v", err)
	}
	sub := Submission{
		ID:            inspection.ID("inspection-test-0a1b2c3d"),
		Dockerfile:    "FROM fedora:32\n",
		Specification: `{"base":"fedora:32"}`,
		Target:        inspection.TargetRunResult,
		Parameters:    map[string]string{ParamRunCPU: "500m", ParamBuildMemory: "256Mi"},
	}
	if err := s.Submit(context.Background(), sub); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if len(cluster.created) != 1 {
		t.Fatalf("created=%d, want 1", len(cluster.created))
	}
	wf := cluster.created[0]
	if wf.Metadata.Name != sub.ID.String() || wf.Metadata.Namespace != "inspections" {
		t.Fatalf("metadata=%+v", wf.Metadata)
	}
	if wf.Metadata.Labels[inspection.LabelInspectionID] != sub.ID.String() {
		t.Fatalf("labels=%v", wf.Metadata.Labels)
	}

	var spec struct {
		Entrypoint string `json:"entrypoint"`
		Arguments  struct {
			Parameters []k8s.Parameter `json:"parameters"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(wf.Spec, &spec); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if spec.Entrypoint != "main" {
		t.Fatalf("entrypoint=%q, want main", spec.Entrypoint)
	}
	got := map[string]string{}
	var order []string
	for _, p := range spec.Arguments.Parameters {
		got[p.Name] = p.Value
		order = append(order, p.Name)
	}
	want := map[string]string{
		ParamTarget:        "inspection-run-result",
		ParamDockerfile:    "FROM fedora:32\n",
		"registry":         "quay.io",
		ParamSpecification: `{"base":"fedora:32"}`,
		ParamInspectionID:  sub.ID.String(),
		ParamRunCPU:        "500m",
		ParamBuildMemory:   "256Mi",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("param %s=%q, want %q", k, got[k], v)
		}
	}
	if len(order) != len(want) {
		t.Fatalf("params=%v", order)
	}
	if order[0] != ParamTarget || order[1] != ParamDockerfile || order[2] != "registry" {
		t.Fatalf("declared order lost: %v", order)
	}
	if order[3] != ParamBuildMemory {
		t.Fatalf("appended params not sorted: %v", order)
	}
}

func TestArgoSubmitterCachesTemplate(t *testing.T) {
	cluster := &fakeCluster{templates: map[string]k8s.WorkflowTemplate{
		"inspection":    {Spec: json.RawMessage(templateSpec)},
		"inspection-hw": {Spec: json.RawMessage(`{}`)},
	}}
	s, err := NewArgoSubmitter(cluster, testConfig(), discard())
	if err != nil {
		t.Fatalf("NewArgoSubmitter() err=%v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Submit(context.Background(), Submission{ID: "inspection-0a1b2c3d", Target: inspection.TargetBuild}); err != nil {
			t.Fatalf("Submit() err=%v", err)
		}
	}
	if cluster.templateCalls != 1 {
		t.Fatalf("templateCalls=%d, want 1", cluster.templateCalls)
	}
	if cluster.lastNamespace != "infra" {
		t.Fatalf("template namespace=%q, want infra", cluster.lastNamespace)
	}
	if err := s.Submit(context.Background(), Submission{ID: "inspection-0a1b2c3e", UseHardwareTemplate: true}); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if cluster.templateCalls != 2 {
		t.Fatalf("templateCalls=%d, want 2", cluster.templateCalls)
	}
	if got := cluster.created[3].Metadata.Annotations["inspector/workflow-template"]; got != "inspection-hw" {
		t.Fatalf("template annotation=%q, want inspection-hw", got)
	}
}

func TestArgoSubmitterErrors(t *testing.T) {
	cluster := &fakeCluster{templates: map[string]k8s.WorkflowTemplate{}}
	s, err := NewArgoSubmitter(cluster, testConfig(), discard())
	if err != nil {
		t.Fatalf("NewArgoSubmitter() err=%v", err)
	}
	if err := s.Submit(context.Background(), Submission{ID: "bad id"}); err == nil {
		t.Fatalf("Submit(invalid id) err=nil")
	}
	if err := s.Submit(context.Background(), Submission{ID: "inspection-0a1b2c3d"}); !errors.Is(err, k8s.ErrNotFound) {
		t.Fatalf("Submit(missing template) err=%v, want ErrNotFound", err)
	}

	cluster.templates["inspection"] = k8s.WorkflowTemplate{Spec: json.RawMessage(`{}`)}
	cluster.createErr = k8s.ErrAlreadyExists
	if err := s.Submit(context.Background(), Submission{ID: "inspection-0a1b2c3d"}); !errors.Is(err, k8s.ErrAlreadyExists) {
		t.Fatalf("Submit(duplicate) err=%v, want ErrAlreadyExists", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.InfraNamespace = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() err=nil for missing infra namespace")
	}
	if _, err := NewArgoSubmitter(&fakeCluster{}, cfg, nil); err == nil {
		t.Fatalf("NewArgoSubmitter() err=nil for invalid config")
	}
}

func TestProberBuild(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	id := inspection.ID("inspection-0a1b2c3d")
	cluster := &fakeCluster{pods: map[string]k8s.Pod{
		id.BuildPodName(): {
			Status: k8s.PodStatus{
				Phase: "Failed",
				ContainerStatuses: []k8s.ContainerStatus{
					{Name: "sidecar", State: k8s.ContainerState{Terminated: &k8s.ContainerStateTerminated{ExitCode: 0}}},
					{Name: "docker-build", State: k8s.ContainerState{Terminated: &k8s.ContainerStateTerminated{
						ExitCode: 2, Reason: "Error", StartedAt: &started, FinishedAt: &finished,
					}}},
				},
			},
		},
	}}
	p, err := NewProber(cluster, "inspections")
	if err != nil {
		t.Fatalf("NewProber() err=%v", err)
	}
	got, err := p.Build(context.Background(), id)
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if got.State != inspection.StateFailed || got.Container != "docker-build" {
		t.Fatalf("Build()=%+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 2 || got.Reason != "Error" {
		t.Fatalf("Build() exit=%v reason=%q", got.ExitCode, got.Reason)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("Build() finished=%v", got.FinishedAt)
	}

	_, err = p.Build(context.Background(), "inspection-0b1b2c3d")
	if !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("Build(missing) err=%v, want ErrNotFound", err)
	}

	cluster.podErr = &k8s.APIError{StatusCode: 500, Body: "boom"}
	_, err = p.Build(context.Background(), id)
	var upstream *inspection.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Build(api error) err=%v, want UpstreamError", err)
	}
}

func TestProberBuildPending(t *testing.T) {
	id := inspection.ID("inspection-0a1b2c3d")
	cluster := &fakeCluster{pods: map[string]k8s.Pod{
		id.BuildPodName(): {Status: k8s.PodStatus{
			Phase: "Pending",
			ContainerStatuses: []k8s.ContainerStatus{
				{Name: "build", State: k8s.ContainerState{Waiting: &k8s.ContainerStateWaiting{Reason: "ImagePullBackOff"}}},
			},
		}},
	}}
	p, _ := NewProber(cluster, "inspections")
	got, err := p.Build(context.Background(), id)
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if got.State != inspection.StatePending || got.Reason != "ImagePullBackOff" || got.ExitCode != nil {
		t.Fatalf("Build()=%+v", got)
	}
}

func TestProberJob(t *testing.T) {
	older := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	cluster := &fakeCluster{jobs: []k8s.Job{
		{Metadata: k8s.ObjectMeta{Name: "old", CreationTimestamp: &older}, Status: k8s.JobStatus{
			Conditions: []k8s.JobCondition{{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded"}},
		}},
		{Metadata: k8s.ObjectMeta{Name: "new", CreationTimestamp: &newer}, Status: k8s.JobStatus{Active: 2}},
	}}
	p, _ := NewProber(cluster, "inspections")
	got, err := p.Job(context.Background(), "inspection-0a1b2c3d")
	if err != nil {
		t.Fatalf("Job() err=%v", err)
	}
	if got.Name != "new" || got.State != inspection.StateRunning || got.Active != 2 {
		t.Fatalf("Job()=%+v", got)
	}
	if cluster.lastSelector != "inspection_id=inspection-0a1b2c3d" {
		t.Fatalf("selector=%q", cluster.lastSelector)
	}
	if cluster.jobs[0].Metadata.Name != "old" || cluster.jobs[1].Metadata.Name != "new" {
		t.Fatalf("Job() reordered the listed jobs: %s, %s", cluster.jobs[0].Metadata.Name, cluster.jobs[1].Metadata.Name)
	}

	cluster.jobs = cluster.jobs[:1]
	got, err = p.Job(context.Background(), "inspection-0a1b2c3d")
	if err != nil {
		t.Fatalf("Job() err=%v", err)
	}
	if got.State != inspection.StateFailed || got.Reason != "BackoffLimitExceeded" {
		t.Fatalf("Job()=%+v", got)
	}

	cluster.jobs = nil
	if _, err := p.Job(context.Background(), "inspection-0a1b2c3d"); !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("Job(none) err=%v, want ErrNotFound", err)
	}
}

func TestProberWorkflow(t *testing.T) {
	cases := []struct {
		phase string
		want  inspection.State
	}{
		{"", inspection.StatePending},
		{"Running", inspection.StateRunning},
		{"Succeeded", inspection.StateSucceeded},
		{"Error", inspection.StateFailed},
		{"Weird", inspection.StateUnknown},
	}
	for _, tc := range cases {
		cluster := &fakeCluster{workflows: []k8s.Workflow{{
			Metadata: k8s.ObjectMeta{Name: "inspection-0a1b2c3d"},
			Status:   k8s.WorkflowStatus{Phase: tc.phase, Progress: "1/2"},
		}}}
		p, _ := NewProber(cluster, "inspections")
		got, err := p.Workflow(context.Background(), "inspection-0a1b2c3d")
		if err != nil {
			t.Fatalf("Workflow(%q) err=%v", tc.phase, err)
		}
		if got.State != tc.want || got.Progress != "1/2" {
			t.Fatalf("Workflow(%q)=%+v, want state %s", tc.phase, got, tc.want)
		}
	}

	older := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	cluster := &fakeCluster{workflows: []k8s.Workflow{
		{Metadata: k8s.ObjectMeta{Name: "retry", CreationTimestamp: &newer}, Status: k8s.WorkflowStatus{Phase: "Running"}},
		{Metadata: k8s.ObjectMeta{Name: "first", CreationTimestamp: &older}, Status: k8s.WorkflowStatus{Phase: "Failed"}},
	}}
	p, _ := NewProber(cluster, "inspections")
	got, err := p.Workflow(context.Background(), "inspection-0a1b2c3d")
	if err != nil || got.Name != "retry" || got.State != inspection.StateRunning {
		t.Fatalf("Workflow(two)=%+v err=%v, want retry running", got, err)
	}
	if cluster.workflows[0].Metadata.Name != "retry" {
		t.Fatalf("Workflow() reordered the listed workflows")
	}

	p, _ = NewProber(&fakeCluster{}, "inspections")
	if _, err := p.Workflow(context.Background(), "inspection-0a1b2c3d"); !errors.Is(err, inspection.ErrNotFound) {
		t.Fatalf("Workflow(none) err=%v, want ErrNotFound", err)
	}
}
