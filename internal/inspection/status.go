package inspection

import "time"

// State is the normalized lifecycle state of a build, job or workflow.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// BuildStatus is a report on the build pod.
type BuildStatus struct {
	State      State      `json:"state"`
	Phase      string     `json:"phase,omitempty"`
	Container  string     `json:"container,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message,omitempty"`
	ExitCode   *int32     `json:"exit_code,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type JobStatus struct {
	Name        string     `json:"name,omitempty"`
	State       State      `json:"state"`
	Active      int32      `json:"active"`
	Succeeded   int32      `json:"succeeded"`
	Failed      int32      `json:"failed"`
	Reason      string     `json:"reason,omitempty"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type WorkflowStatus struct {
	Name       string     `json:"name,omitempty"`
	State      State      `json:"state"`
	Phase      string     `json:"phase,omitempty"`
	Message    string     `json:"message,omitempty"`
	Progress   string     `json:"progress,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Status is the composite view; a nil source is rendered as null.
type Status struct {
	Build      *BuildStatus    `json:"build"`
	Job        *JobStatus      `json:"job"`
	Workflow   *WorkflowStatus `json:"workflow"`
	DataStored bool            `json:"data_stored"`
}

// Target selects the workflow branch an inspection runs.
type Target string

const (
	TargetRunResult Target = "inspection-run-result"
	TargetBuild     Target = "inspection-build"
)
