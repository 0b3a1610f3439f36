package inspections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/auth"
	"github.com/animus-labs/animus-inspect/internal/platform/requestid"
	"github.com/animus-labs/animus-inspect/internal/repo"
	"github.com/animus-labs/animus-inspect/internal/runtimeexec"
	"github.com/animus-labs/animus-inspect/internal/specification"
	"github.com/animus-labs/animus-inspect/internal/templating"
)

// Dispatched is returned once the workflow has been accepted by the cluster.
// Specification is the normalized input carrying its @created marker.
type Dispatched struct {
	ID            inspection.ID
	Specification specification.Specification
	Target        inspection.Target
}

type Dispatcher struct {
	compiler  Compiler
	submitter WorkflowSubmitter
	registry  repo.InspectionRepository
	defaults  specification.Defaults
	logger    *slog.Logger

	now   func() time.Time
	newID func(identifier string) (inspection.ID, error)
}

func NewDispatcher(compiler Compiler, submitter WorkflowSubmitter, defaults specification.Defaults, logger *slog.Logger) (*Dispatcher, error) {
	if compiler == nil {
		return nil, errors.New("compiler is required")
	}
	if submitter == nil {
		return nil, errors.New("workflow submitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		compiler:  compiler,
		submitter: submitter,
		defaults:  defaults,
		logger:    logger,
		now:       time.Now,
		newID:     inspection.NewID,
	}, nil
}

// WithRegistry records every dispatched inspection in r.
func (d *Dispatcher) WithRegistry(r repo.InspectionRepository) *Dispatcher {
	d.registry = r
	return d
}

// Compile validates, normalizes and compiles spec without dispatching it.
func (d *Dispatcher) Compile(ctx context.Context, spec specification.Specification) (specification.Specification, string, error) {
	if err := specification.Validate(spec); err != nil {
		return spec, "", err
	}
	normalized := specification.Normalize(spec, d.defaults)
	artifact, err := d.compiler.Compile(ctx, normalized)
	if err != nil {
		return normalized, "", err
	}
	return normalized, artifact.Dockerfile, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, spec specification.Specification) (Dispatched, error) {
	if err := specification.Validate(spec); err != nil {
		return Dispatched{}, err
	}
	normalized := specification.Normalize(spec, d.defaults)
	artifact, err := d.compiler.Compile(ctx, normalized)
	if err != nil {
		return Dispatched{}, err
	}

	target := inspection.TargetBuild
	if artifact.ExecutionRequested {
		target = inspection.TargetRunResult
	}

	id, err := d.newID(normalized.Identifier)
	if err != nil {
		return Dispatched{}, err
	}
	stamped := normalized.WithCreated(d.now())

	escaped, err := templating.EscapeSpecification(stamped)
	if err != nil {
		return Dispatched{}, fmt.Errorf("escape specification: %w", err)
	}
	escapedJSON, err := json.Marshal(escaped)
	if err != nil {
		return Dispatched{}, fmt.Errorf("encode specification: %w", err)
	}

	params, hardware := workflowParameters(stamped)
	sub := runtimeexec.Submission{
		ID:                  id,
		Dockerfile:          templating.EscapeString(artifact.Dockerfile),
		Specification:       string(escapedJSON),
		Target:              target,
		Parameters:          params,
		UseHardwareTemplate: hardware,
	}
	if err := d.submitter.Submit(ctx, sub); err != nil {
		return Dispatched{}, inspection.Upstream(id, "submit workflow", err)
	}
	d.logger.Info("inspection dispatched",
		"inspection_id", id.String(),
		"target", string(target),
		"hardware_template", hardware,
	)

	d.record(ctx, id, target, stamped)
	return Dispatched{ID: id, Specification: stamped, Target: target}, nil
}

// record is best effort: the workflow already exists, so a registry failure
// must not turn the submission into an error.
func (d *Dispatcher) record(ctx context.Context, id inspection.ID, target inspection.Target, spec specification.Specification) {
	if d.registry == nil {
		return
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		d.logger.Warn("registry encode failed", "inspection_id", id.String(), "error", err.Error())
		return
	}
	rid, _ := requestid.FromContext(ctx)
	subject := auth.Subject(ctx)
	_, err = d.registry.Create(ctx, repo.InspectionRecord{
		InspectionID:  id,
		Identifier:    spec.Identifier,
		Target:        target,
		Specification: raw,
		CreatedAt:     d.now(),
		CreatedBy:     subject,
	}, repo.AuditInfo{Actor: subject, RequestID: rid})
	if err != nil {
		d.logger.Warn("registry record failed", "inspection_id", id.String(), "request_id", rid, "error", err.Error())
	}
}

// workflowParameters derives the template arguments shared by the build and
// run steps. Hardware hints select the hardware-aware template. String
// values are escaped like the Dockerfile and the specification.
func workflowParameters(spec specification.Specification) (map[string]string, bool) {
	params := map[string]string{}
	if spec.Build != nil {
		params[runtimeexec.ParamBuildCPU] = templating.EscapeString(spec.Build.Requests.CPU)
		params[runtimeexec.ParamBuildMemory] = templating.EscapeString(spec.Build.Requests.Memory)
	}
	if spec.Run != nil {
		params[runtimeexec.ParamRunCPU] = templating.EscapeString(spec.Run.Requests.CPU)
		params[runtimeexec.ParamRunMemory] = templating.EscapeString(spec.Run.Requests.Memory)
	}
	setInt(params, runtimeexec.ParamBatchSize, spec.BatchSize)
	setInt(params, runtimeexec.ParamAllowedFailures, spec.AllowedFailures)
	setInt(params, runtimeexec.ParamParallelism, spec.Parallelism)

	if spec.Build == nil || spec.Build.Requests.Hardware == nil {
		return params, false
	}
	hw := spec.Build.Requests.Hardware
	setInt(params, runtimeexec.ParamCPUFamily, hw.CPUFamily)
	setInt(params, runtimeexec.ParamCPUModel, hw.CPUModel)
	setInt(params, runtimeexec.ParamPhysicalCPUs, hw.PhysicalCPUs)
	if hw.Processor != "" {
		params[runtimeexec.ParamProcessor] = templating.EscapeString(hw.Processor)
	}
	return params, true
}

func setInt(params map[string]string, name string, v *int) {
	if v != nil {
		params[name] = strconv.Itoa(*v)
	}
}
