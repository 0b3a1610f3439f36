package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	argoAPIVersion = "argoproj.io/v1alpha1"
	argoPathPrefix = "/apis/argoproj.io/v1alpha1/namespaces/"
)

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type WorkflowStatus struct {
	Phase      string     `json:"phase,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Message    string     `json:"message,omitempty"`
	Progress   string     `json:"progress,omitempty"`
}

// Workflow keeps its spec as raw JSON: the inspector only overrides the
// arguments of a template it does not own.
type Workflow struct {
	APIVersion string          `json:"apiVersion,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Metadata   ObjectMeta      `json:"metadata"`
	Spec       json.RawMessage `json:"spec,omitempty"`
	Status     WorkflowStatus  `json:"status,omitempty"`
}

type WorkflowTemplate struct {
	APIVersion string          `json:"apiVersion,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Metadata   ObjectMeta      `json:"metadata"`
	Spec       json.RawMessage `json:"spec"`
}

type workflowList struct {
	Items []Workflow `json:"items"`
}

func (c *Client) GetWorkflowTemplate(ctx context.Context, namespace, name string) (WorkflowTemplate, error) {
	if err := requireName("workflowtemplate", namespace, name); err != nil {
		return WorkflowTemplate{}, err
	}
	path := argoPathPrefix + fmt.Sprintf("%s/workflowtemplates/%s", url.PathEscape(namespace), url.PathEscape(name))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return WorkflowTemplate{}, err
	}
	var out WorkflowTemplate
	if err := c.do(req, &out); err != nil {
		return WorkflowTemplate{}, err
	}
	return out, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, namespace string, wf Workflow) (Workflow, error) {
	if namespace == "" {
		return Workflow{}, errors.New("workflow namespace is required")
	}
	wf.APIVersion = argoAPIVersion
	wf.Kind = "Workflow"
	wf.Metadata.Namespace = namespace

	path := argoPathPrefix + url.PathEscape(namespace) + "/workflows"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, wf)
	if err != nil {
		return Workflow{}, err
	}
	var out Workflow
	if err := c.do(req, &out); err != nil {
		return Workflow{}, err
	}
	return out, nil
}

// ListWorkflows returns the workflows matching labelSelector. An empty result
// is not an error.
func (c *Client) ListWorkflows(ctx context.Context, namespace, labelSelector string) ([]Workflow, error) {
	if namespace == "" {
		return nil, errors.New("workflow namespace is required")
	}
	path := argoPathPrefix + url.PathEscape(namespace) + "/workflows"
	req, err := c.newRequest(ctx, http.MethodGet, path, labelQuery(labelSelector), nil)
	if err != nil {
		return nil, err
	}
	var out workflowList
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}
