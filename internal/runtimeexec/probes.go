package runtimeexec

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/k8s"
)

// Prober reads the cluster-side state of one inspection.
type Prober struct {
	cluster   Cluster
	namespace string
}

func NewProber(cluster Cluster, namespace string) (*Prober, error) {
	if cluster == nil {
		return nil, errors.New("k8s client is required")
	}
	if namespace == "" {
		return nil, errors.New("inspection namespace is required")
	}
	return &Prober{cluster: cluster, namespace: namespace}, nil
}

// Build reports the build pod. A missing pod yields an error matching
// inspection.ErrNotFound.
func (p *Prober) Build(ctx context.Context, id inspection.ID) (*inspection.BuildStatus, error) {
	pod, err := p.cluster.GetPod(ctx, p.namespace, id.BuildPodName())
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			return nil, inspection.NotFound("build", id)
		}
		return nil, inspection.Upstream(id, "get build pod", err)
	}
	return buildStatus(pod), nil
}

// Job reports the most recent run job labelled with the inspection id.
func (p *Prober) Job(ctx context.Context, id inspection.ID) (*inspection.JobStatus, error) {
	jobs, err := p.cluster.ListJobs(ctx, p.namespace, id.LabelSelector())
	if err != nil {
		return nil, inspection.Upstream(id, "list jobs", err)
	}
	if len(jobs) == 0 {
		return nil, inspection.NotFound("job", id)
	}
	return jobStatus(newest(jobs, func(j k8s.Job) k8s.ObjectMeta { return j.Metadata })), nil
}

func (p *Prober) Workflow(ctx context.Context, id inspection.ID) (*inspection.WorkflowStatus, error) {
	wfs, err := p.cluster.ListWorkflows(ctx, p.namespace, id.LabelSelector())
	if err != nil {
		return nil, inspection.Upstream(id, "list workflows", err)
	}
	if len(wfs) == 0 {
		return nil, inspection.NotFound("workflow", id)
	}
	return workflowStatus(newest(wfs, func(w k8s.Workflow) k8s.ObjectMeta { return w.Metadata })), nil
}

// newest returns the most recently created item without reordering items.
// Ties keep the earlier item.
func newest[T any](items []T, meta func(T) k8s.ObjectMeta) T {
	best := items[0]
	for _, item := range items[1:] {
		if created(meta(item)).After(created(meta(best))) {
			best = item
		}
	}
	return best
}

func created(m k8s.ObjectMeta) time.Time {
	if m.CreationTimestamp == nil {
		return time.Time{}
	}
	return *m.CreationTimestamp
}

func buildStatus(pod k8s.Pod) *inspection.BuildStatus {
	out := &inspection.BuildStatus{
		Phase:     pod.Status.Phase,
		Reason:    pod.Status.Reason,
		Message:   pod.Status.Message,
		StartedAt: pod.Status.StartTime,
	}
	switch pod.Status.Phase {
	case "Pending":
		out.State = inspection.StatePending
	case "Running":
		out.State = inspection.StateRunning
	case "Succeeded":
		out.State = inspection.StateSucceeded
	case "Failed":
		out.State = inspection.StateFailed
	default:
		out.State = inspection.StateUnknown
	}

	cs, ok := mainContainer(pod.Status.ContainerStatuses)
	if !ok {
		return out
	}
	out.Container = cs.Name
	switch {
	case cs.State.Terminated != nil:
		t := cs.State.Terminated
		code := t.ExitCode
		out.ExitCode = &code
		out.Reason = firstNonEmpty(t.Reason, out.Reason)
		out.Message = firstNonEmpty(t.Message, out.Message)
		if t.StartedAt != nil {
			out.StartedAt = t.StartedAt
		}
		out.FinishedAt = t.FinishedAt
	case cs.State.Waiting != nil:
		out.Reason = firstNonEmpty(cs.State.Waiting.Reason, out.Reason)
		out.Message = firstNonEmpty(cs.State.Waiting.Message, out.Message)
	case cs.State.Running != nil:
		if cs.State.Running.StartedAt != nil {
			out.StartedAt = cs.State.Running.StartedAt
		}
	}
	return out
}

// mainContainer prefers a terminated container, then the first one listed.
func mainContainer(statuses []k8s.ContainerStatus) (k8s.ContainerStatus, bool) {
	if len(statuses) == 0 {
		return k8s.ContainerStatus{}, false
	}
	for _, cs := range statuses {
		if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
			return cs, true
		}
	}
	for _, cs := range statuses {
		if cs.State.Terminated != nil {
			return cs, true
		}
	}
	return statuses[0], true
}

func jobStatus(job k8s.Job) *inspection.JobStatus {
	out := &inspection.JobStatus{
		Name:        job.Metadata.Name,
		Active:      job.Status.Active,
		Succeeded:   job.Status.Succeeded,
		Failed:      job.Status.Failed,
		StartedAt:   job.Status.StartTime,
		CompletedAt: job.Status.CompletionTime,
	}
	for _, cond := range job.Status.Conditions {
		if cond.Status != "True" {
			continue
		}
		switch cond.Type {
		case "Failed":
			out.State = inspection.StateFailed
			out.Reason = cond.Reason
			out.Message = cond.Message
			if out.CompletedAt == nil {
				out.CompletedAt = cond.LastTransitionTime
			}
			return out
		case "Complete":
			out.State = inspection.StateSucceeded
			out.Reason = cond.Reason
			out.Message = cond.Message
			return out
		}
	}
	if job.Status.Active > 0 {
		out.State = inspection.StateRunning
	} else {
		out.State = inspection.StatePending
	}
	return out
}

func workflowStatus(wf k8s.Workflow) *inspection.WorkflowStatus {
	out := &inspection.WorkflowStatus{
		Name:       wf.Metadata.Name,
		Phase:      wf.Status.Phase,
		Message:    wf.Status.Message,
		Progress:   wf.Status.Progress,
		StartedAt:  wf.Status.StartedAt,
		FinishedAt: wf.Status.FinishedAt,
	}
	switch wf.Status.Phase {
	case "", "Pending":
		out.State = inspection.StatePending
	case "Running":
		out.State = inspection.StateRunning
	case "Succeeded":
		out.State = inspection.StateSucceeded
	case "Failed", "Error":
		out.State = inspection.StateFailed
	default:
		out.State = inspection.StateUnknown
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
