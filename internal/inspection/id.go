// Package inspection holds the identifiers, status model and error taxonomy
// shared by the inspector's service layer and HTTP surface.
package inspection

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

const idPrefix = "inspection"

var idPattern = regexp.MustCompile(`^inspection-(?:([a-z0-9](?:[-a-z0-9]*[a-z0-9])?)-)?[0-9a-f]{8}$`)

// ID is the join key across builds, jobs, workflows and stored results.
type ID string

var randRead = rand.Read

// NewID returns "inspection-<8 hex>" or, with a label,
// "inspection-<identifier>-<8 hex>", using 32 bits of crypto/rand.
func NewID(identifier string) (ID, error) {
	buf := make([]byte, 4)
	if _, err := randRead(buf); err != nil {
		return "", fmt.Errorf("generate inspection id: %w", err)
	}
	suffix := hex.EncodeToString(buf)
	if identifier == "" {
		return ID(idPrefix + "-" + suffix), nil
	}
	return ID(idPrefix + "-" + identifier + "-" + suffix), nil
}

// ParseID accepts only ids NewID could have produced.
func ParseID(raw string) (ID, error) {
	id := ID(raw)
	if !id.Valid() {
		return "", fmt.Errorf("invalid inspection id %q", raw)
	}
	return id, nil
}

func (id ID) Valid() bool {
	return idPattern.MatchString(string(id))
}

// Identifier returns the human label folded into the id, if any.
func (id ID) Identifier() string {
	m := idPattern.FindStringSubmatch(string(id))
	if m == nil {
		return ""
	}
	return m[1]
}

func (id ID) String() string {
	return string(id)
}

// BuildPodName is the pod the image build of id runs in.
func (id ID) BuildPodName() string {
	return string(id) + "-1-build"
}

// LabelSelector selects every cluster resource created for id.
func (id ID) LabelSelector() string {
	return LabelInspectionID + "=" + string(id)
}

const LabelInspectionID = "inspection_id"
