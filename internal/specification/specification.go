// Package specification holds the software stack specification accepted by
// the inspector together with its decoding, validation and normalization.
package specification

import (
	"time"
)

// CreatedLayout is the layout of the @created marker injected at dispatch.
const CreatedLayout = "2006-01-02T15:04:05.000000"

const (
	PackageManagerMicropipenv = "micropipenv"
	PackageManagerPipenv      = "pipenv"
)

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Python describes a Pipfile / Pipfile.lock pair. Both documents are kept as
// generic trees; the compiler renders them verbatim.
type Python struct {
	Requirements       map[string]any `json:"requirements,omitempty"`
	RequirementsLocked map[string]any `json:"requirements_locked,omitempty"`
	PackageManager     string         `json:"package_manager,omitempty"`
}

// Manager returns the effective package manager.
func (p *Python) Manager() string {
	if p == nil || p.PackageManager == "" {
		return PackageManagerMicropipenv
	}
	return p.PackageManager
}

type Hardware struct {
	CPUFamily    *int   `json:"cpu_family,omitempty"`
	CPUModel     *int   `json:"cpu_model,omitempty"`
	PhysicalCPUs *int   `json:"physical_cpus,omitempty"`
	Processor    string `json:"processor,omitempty"`
}

type Requests struct {
	CPU      string    `json:"cpu,omitempty"`
	Memory   string    `json:"memory,omitempty"`
	Hardware *Hardware `json:"hardware,omitempty"`
}

type Phase struct {
	Requests Requests `json:"requests"`
}

type Specification struct {
	Base            string   `json:"base"`
	Update          bool     `json:"update,omitempty"`
	Packages        []string `json:"packages,omitempty"`
	PythonPackages  []string `json:"python_packages,omitempty"`
	Environment     []EnvVar `json:"environment,omitempty"`
	Files           []File   `json:"files,omitempty"`
	Python          *Python  `json:"python,omitempty"`
	Script          *string  `json:"script,omitempty"`
	Build           *Phase   `json:"build,omitempty"`
	Run             *Phase   `json:"run,omitempty"`
	Identifier      string   `json:"identifier,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	AllowedFailures *int     `json:"allowed_failures,omitempty"`
	Parallelism     *int     `json:"parallelism,omitempty"`
	Created         string   `json:"@created,omitempty"`
}

// ExecutionRequested reports whether a post-build run phase is needed.
func (s Specification) ExecutionRequested() bool {
	return s.Script != nil
}

func (s Specification) WithCreated(t time.Time) Specification {
	out := s.Clone()
	out.Created = t.UTC().Format(CreatedLayout)
	return out
}

func (s Specification) WithoutCreated() Specification {
	out := s.Clone()
	out.Created = ""
	return out
}

// Clone returns a deep copy.
func (s Specification) Clone() Specification {
	out := s
	out.Packages = cloneSlice(s.Packages)
	out.PythonPackages = cloneSlice(s.PythonPackages)
	out.Environment = cloneSlice(s.Environment)
	out.Files = cloneSlice(s.Files)
	if s.Python != nil {
		p := *s.Python
		p.Requirements = cloneTree(s.Python.Requirements)
		p.RequirementsLocked = cloneTree(s.Python.RequirementsLocked)
		out.Python = &p
	}
	if s.Script != nil {
		script := *s.Script
		out.Script = &script
	}
	out.Build = s.Build.clone()
	out.Run = s.Run.clone()
	out.BatchSize = clonePtr(s.BatchSize)
	out.AllowedFailures = clonePtr(s.AllowedFailures)
	out.Parallelism = clonePtr(s.Parallelism)
	return out
}

func (p *Phase) clone() *Phase {
	if p == nil {
		return nil
	}
	out := *p
	if p.Requests.Hardware != nil {
		hw := *p.Requests.Hardware
		hw.CPUFamily = clonePtr(hw.CPUFamily)
		hw.CPUModel = clonePtr(hw.CPUModel)
		hw.PhysicalCPUs = clonePtr(hw.PhysicalCPUs)
		out.Requests.Hardware = &hw
	}
	return &out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func clonePtr[T any](in *T) *T {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneTree(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return cloneValue(in).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
