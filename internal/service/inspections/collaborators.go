package inspections

import (
	"context"

	"github.com/animus-labs/animus-inspect/internal/dockerfile"
	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/runtimeexec"
	"github.com/animus-labs/animus-inspect/internal/specification"
)

type Compiler interface {
	Compile(ctx context.Context, spec specification.Specification) (dockerfile.Artifact, error)
}

type WorkflowSubmitter interface {
	Submit(ctx context.Context, sub runtimeexec.Submission) error
}

type BuildProber interface {
	Build(ctx context.Context, id inspection.ID) (*inspection.BuildStatus, error)
}

type JobProber interface {
	Job(ctx context.Context, id inspection.ID) (*inspection.JobStatus, error)
}

type WorkflowProber interface {
	Workflow(ctx context.Context, id inspection.ID) (*inspection.WorkflowStatus, error)
}

// ResultStore is what inspection workflows leave behind.
type ResultStore interface {
	Exists(ctx context.Context, id inspection.ID) (bool, error)
	BatchSize(ctx context.Context, id inspection.ID) (int, error)
	JobLog(ctx context.Context, id inspection.ID, item int) (string, error)
	JobResult(ctx context.Context, id inspection.ID, item int) (any, error)
	BuildLog(ctx context.Context, id inspection.ID) (string, error)
	Specification(ctx context.Context, id inspection.ID) (specification.Specification, error)
	ListIDs(ctx context.Context) ([]inspection.ID, error)
}
