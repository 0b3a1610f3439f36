package k8s

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type JobCondition struct {
	Type               string     `json:"type,omitempty"`
	Status             string     `json:"status,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	Message            string     `json:"message,omitempty"`
	LastTransitionTime *time.Time `json:"lastTransitionTime,omitempty"`
}

type JobStatus struct {
	StartTime      *time.Time     `json:"startTime,omitempty"`
	CompletionTime *time.Time     `json:"completionTime,omitempty"`
	Active         int32          `json:"active,omitempty"`
	Succeeded      int32          `json:"succeeded,omitempty"`
	Failed         int32          `json:"failed,omitempty"`
	Conditions     []JobCondition `json:"conditions,omitempty"`
}

type JobSpec struct {
	Parallelism  *int32 `json:"parallelism,omitempty"`
	Completions  *int32 `json:"completions,omitempty"`
	BackoffLimit *int32 `json:"backoffLimit,omitempty"`
}

type Job struct {
	APIVersion string     `json:"apiVersion,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       JobSpec    `json:"spec,omitempty"`
	Status     JobStatus  `json:"status,omitempty"`
}

type jobList struct {
	Items []Job `json:"items"`
}

// ListJobs returns the jobs matching labelSelector. An empty result is not an
// error.
func (c *Client) ListJobs(ctx context.Context, namespace, labelSelector string) ([]Job, error) {
	if namespace == "" {
		return nil, errors.New("job namespace is required")
	}
	path := fmt.Sprintf("/apis/batch/v1/namespaces/%s/jobs", url.PathEscape(namespace))
	req, err := c.newRequest(ctx, http.MethodGet, path, labelQuery(labelSelector), nil)
	if err != nil {
		return nil, err
	}
	var out jobList
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func labelQuery(selector string) url.Values {
	if selector == "" {
		return nil
	}
	return url.Values{"labelSelector": []string{selector}}
}
