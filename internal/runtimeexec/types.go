// Package runtimeexec talks to the cluster on behalf of the inspector: it
// submits inspection workflows and observes the build pod, run job and
// workflow of an inspection.
package runtimeexec

import (
	"context"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/k8s"
)

// Cluster is the subset of the Kubernetes API the executor uses.
type Cluster interface {
	GetPod(ctx context.Context, namespace, name string) (k8s.Pod, error)
	ListJobs(ctx context.Context, namespace, labelSelector string) ([]k8s.Job, error)
	ListWorkflows(ctx context.Context, namespace, labelSelector string) ([]k8s.Workflow, error)
	GetWorkflowTemplate(ctx context.Context, namespace, name string) (k8s.WorkflowTemplate, error)
	CreateWorkflow(ctx context.Context, namespace string, wf k8s.Workflow) (k8s.Workflow, error)
}

// Submission is one inspection workflow. Dockerfile and Specification are
// already escaped for the template engine.
type Submission struct {
	ID                  inspection.ID
	Dockerfile          string
	Specification       string
	Target              inspection.Target
	Parameters          map[string]string
	UseHardwareTemplate bool
}

// Workflow parameter names shared by the build and run templates.
const (
	ParamInspectionID    = "inspection-id"
	ParamDockerfile      = "dockerfile"
	ParamSpecification   = "specification"
	ParamTarget          = "target"
	ParamBuildCPU        = "build-cpu"
	ParamBuildMemory     = "build-memory"
	ParamRunCPU          = "run-cpu"
	ParamRunMemory       = "run-memory"
	ParamCPUFamily       = "cpu-family"
	ParamCPUModel        = "cpu-model"
	ParamPhysicalCPUs    = "physical-cpus"
	ParamProcessor       = "processor"
	ParamBatchSize       = "batch-size"
	ParamAllowedFailures = "allowed-failures"
	ParamParallelism     = "parallelism"
)
