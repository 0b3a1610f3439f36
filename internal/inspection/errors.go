package inspection

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// NotFoundError names the sub-resource that is missing. errors.Is matches it
// against ErrNotFound.
type NotFoundError struct {
	Resource string
	ID       ID
	Item     *int
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Item != nil:
		return fmt.Sprintf("no %s for item %d of inspection %q", e.Resource, *e.Item, e.ID)
	case e.ID != "":
		return fmt.Sprintf("no %s found for inspection %q", e.Resource, e.ID)
	default:
		return fmt.Sprintf("%s not found", e.Resource)
	}
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(resource string, id ID) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func ItemNotFound(resource string, id ID, item int) error {
	return &NotFoundError{Resource: resource, ID: id, Item: &item}
}

// UpstreamError is a collaborator failure other than not-found.
type UpstreamError struct {
	ID  ID
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func Upstream(id ID, op string, err error) error {
	return &UpstreamError{ID: id, Op: op, Err: err}
}
