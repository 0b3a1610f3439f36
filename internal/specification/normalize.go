package specification

// Defaults are the resource requests assigned when a phase does not state
// its own.
type Defaults struct {
	CPU    string
	Memory string
}

var DefaultRequests = Defaults{CPU: "500m", Memory: "256Mi"}

// Normalize returns a copy in which both build and run phases exist and carry
// cpu and memory requests. Non-empty caller values are kept. The input is not
// modified and normalizing twice is the same as normalizing once.
func Normalize(spec Specification, defaults Defaults) Specification {
	if defaults.CPU == "" {
		defaults.CPU = DefaultRequests.CPU
	}
	if defaults.Memory == "" {
		defaults.Memory = DefaultRequests.Memory
	}

	out := spec.Clone()
	if out.Build == nil {
		out.Build = &Phase{}
	}
	if out.Run == nil {
		out.Run = &Phase{}
	}
	for _, phase := range []*Phase{out.Build, out.Run} {
		if phase.Requests.CPU == "" {
			phase.Requests.CPU = defaults.CPU
		}
		if phase.Requests.Memory == "" {
			phase.Requests.Memory = defaults.Memory
		}
	}
	return out
}
