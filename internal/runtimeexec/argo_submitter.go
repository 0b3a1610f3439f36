package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/platform/k8s"
)

// ArgoSubmitter instantiates the inspection WorkflowTemplate kept in the
// infra namespace as a Workflow in the inspection namespace.
type ArgoSubmitter struct {
	cluster   Cluster
	cfg       Config
	logger    *slog.Logger
	templates *expirable.LRU[string, k8s.WorkflowTemplate]
}

func NewArgoSubmitter(cluster Cluster, cfg Config, logger *slog.Logger) (*ArgoSubmitter, error) {
	if cluster == nil {
		return nil, errors.New("k8s client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &ArgoSubmitter{cluster: cluster, cfg: cfg, logger: logger}
	if cfg.TemplateCacheTTL > 0 {
		s.templates = expirable.NewLRU[string, k8s.WorkflowTemplate](8, nil, cfg.TemplateCacheTTL)
	}
	return s, nil
}

func (s *ArgoSubmitter) Submit(ctx context.Context, sub Submission) error {
	if !sub.ID.Valid() {
		return fmt.Errorf("invalid inspection id %q", sub.ID)
	}
	name := s.cfg.Template
	if sub.UseHardwareTemplate {
		name = s.cfg.HardwareTemplate
	}
	tmpl, err := s.template(ctx, name)
	if err != nil {
		return err
	}

	params := make(map[string]string, len(sub.Parameters)+4)
	for k, v := range sub.Parameters {
		params[k] = v
	}
	params[ParamInspectionID] = sub.ID.String()
	params[ParamDockerfile] = sub.Dockerfile
	params[ParamSpecification] = sub.Specification
	params[ParamTarget] = string(sub.Target)

	spec, err := workflowSpec(tmpl.Spec, params, s.cfg.ServiceAccount)
	if err != nil {
		return fmt.Errorf("workflow template %s: %w", name, err)
	}

	wf := k8s.Workflow{
		Metadata: k8s.ObjectMeta{
			Name: sub.ID.String(),
			Labels: map[string]string{
				"app.kubernetes.io/name":      "inspector",
				"app.kubernetes.io/component": "inspection",
				inspection.LabelInspectionID:  sub.ID.String(),
			},
			Annotations: map[string]string{
				"inspector/workflow-template": name,
			},
		},
		Spec: spec,
	}
	if _, err := s.cluster.CreateWorkflow(ctx, s.cfg.InspectionNamespace, wf); err != nil {
		if errors.Is(err, k8s.ErrAlreadyExists) {
			return fmt.Errorf("inspection %s already exists: %w", sub.ID, err)
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	s.logger.Info("inspection workflow submitted",
		"inspection_id", sub.ID.String(),
		"target", string(sub.Target),
		"template", name,
		"namespace", s.cfg.InspectionNamespace,
	)
	return nil
}

func (s *ArgoSubmitter) template(ctx context.Context, name string) (k8s.WorkflowTemplate, error) {
	if s.templates != nil {
		if tmpl, ok := s.templates.Get(name); ok {
			return tmpl, nil
		}
	}
	tmpl, err := s.cluster.GetWorkflowTemplate(ctx, s.cfg.InfraNamespace, name)
	if err != nil {
		return k8s.WorkflowTemplate{}, fmt.Errorf("get workflow template %s/%s: %w", s.cfg.InfraNamespace, name, err)
	}
	if s.templates != nil {
		s.templates.Add(name, tmpl)
	}
	return tmpl, nil
}

// workflowSpec overrides the template's argument values. Parameters the
// template declares keep their order; new ones are appended sorted by name.
func workflowSpec(raw json.RawMessage, params map[string]string, serviceAccount string) (json.RawMessage, error) {
	spec := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("decode spec: %w", err)
		}
	}

	arguments, _ := spec["arguments"].(map[string]any)
	if arguments == nil {
		arguments = map[string]any{}
	}
	declared, _ := arguments["parameters"].([]any)

	merged := make([]any, 0, len(declared)+len(params))
	seen := map[string]bool{}
	for _, item := range declared {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := p["name"].(string)
		if v, ok := params[name]; ok {
			p["value"] = v
			seen[name] = true
		}
		merged = append(merged, p)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		merged = append(merged, map[string]any{"name": name, "value": params[name]})
	}

	arguments["parameters"] = merged
	spec["arguments"] = arguments
	if serviceAccount != "" {
		spec["serviceAccountName"] = serviceAccount
	}
	return json.Marshal(spec)
}
