package specification

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength keeps generated inspection ids within the 63 character
// limit of Kubernetes label values.
const MaxIdentifierLength = 40

var (
	envNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	identifierPattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	// Kubernetes resource quantity: "500m", "2", "0.5", "256Mi", "1e3".
	quantityPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?([numkMGTPE]|[KMGTPE]i|[eE][0-9]+)?$`)
)

// Validate checks every invariant a specification must hold before it is
// compiled and reports all problems at once.
func Validate(spec Specification) error {
	issues := &ValidationError{}

	if strings.TrimSpace(spec.Base) == "" {
		issues.Add("base is required")
	} else if multiline(spec.Base) {
		issues.Add("base must be a single line")
	}
	for i, pkg := range spec.Packages {
		if strings.TrimSpace(pkg) == "" {
			issues.Add(fmt.Sprintf("packages[%d] is empty", i))
		} else if multiline(pkg) {
			issues.Add(fmt.Sprintf("packages[%d] must be a single line", i))
		}
	}
	for i, pkg := range spec.PythonPackages {
		if strings.TrimSpace(pkg) == "" {
			issues.Add(fmt.Sprintf("python_packages[%d] is empty", i))
		} else if multiline(pkg) {
			issues.Add(fmt.Sprintf("python_packages[%d] must be a single line", i))
		}
	}
	for i, ev := range spec.Environment {
		if !envNamePattern.MatchString(ev.Name) {
			issues.Add(fmt.Sprintf("environment[%d].name %q is not a valid variable name", i, ev.Name))
		}
		if multiline(ev.Value) {
			issues.Add(fmt.Sprintf("environment[%d].value must be a single line", i))
		}
	}
	for i, f := range spec.Files {
		if strings.TrimSpace(f.Path) == "" {
			issues.Add(fmt.Sprintf("files[%d].path is required", i))
		} else if multiline(f.Path) {
			issues.Add(fmt.Sprintf("files[%d].path must be a single line", i))
		}
	}

	if p := spec.Python; p != nil {
		hasReq := len(p.Requirements) > 0
		hasLock := len(p.RequirementsLocked) > 0
		switch {
		case hasReq && !hasLock:
			issues.Add("python.requirements_locked is required when python.requirements is set")
		case hasLock && !hasReq:
			issues.Add("python.requirements is required when python.requirements_locked is set")
		}
		switch p.PackageManager {
		case "", PackageManagerMicropipenv, PackageManagerPipenv:
		default:
			issues.Add(fmt.Sprintf("python.package_manager %q is not supported (use %s or %s)",
				p.PackageManager, PackageManagerMicropipenv, PackageManagerPipenv))
		}
	}

	if spec.Script != nil && strings.TrimSpace(*spec.Script) == "" {
		issues.Add("script must not be empty")
	}

	if id := spec.Identifier; id != "" {
		if len(id) > MaxIdentifierLength {
			issues.Add(fmt.Sprintf("identifier must be at most %d characters", MaxIdentifierLength))
		} else if !identifierPattern.MatchString(id) {
			issues.Add("identifier must consist of lower case alphanumerics and '-'")
		}
	}

	if spec.BatchSize != nil && *spec.BatchSize < 1 {
		issues.Add("batch_size must be >= 1")
	}
	if spec.Parallelism != nil && *spec.Parallelism < 1 {
		issues.Add("parallelism must be >= 1")
	}
	if spec.AllowedFailures != nil && *spec.AllowedFailures < 0 {
		issues.Add("allowed_failures must be >= 0")
	}

	phases := []struct {
		name  string
		phase *Phase
	}{{"build", spec.Build}, {"run", spec.Run}}
	for _, ph := range phases {
		if ph.phase == nil {
			continue
		}
		req := ph.phase.Requests
		if req.CPU != "" && !quantityPattern.MatchString(req.CPU) {
			issues.Add(fmt.Sprintf("%s.requests.cpu %q is not a resource quantity", ph.name, req.CPU))
		}
		if req.Memory != "" && !quantityPattern.MatchString(req.Memory) {
			issues.Add(fmt.Sprintf("%s.requests.memory %q is not a resource quantity", ph.name, req.Memory))
		}
		hw := req.Hardware
		if hw == nil {
			continue
		}
		if multiline(hw.Processor) {
			issues.Add(fmt.Sprintf("%s.requests.hardware.processor must be a single line", ph.name))
		}
		if negative(hw.CPUFamily) || negative(hw.CPUModel) || negative(hw.PhysicalCPUs) {
			issues.Add(fmt.Sprintf("%s.requests.hardware values must be >= 0", ph.name))
		}
	}

	return issues.OrNil()
}

// multiline reports a value that would end a Dockerfile instruction or a
// workflow parameter line early.
func multiline(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

func negative(v *int) bool {
	return v != nil && *v < 0
}
