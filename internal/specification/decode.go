package specification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

// IsYAML reports whether contentType names a YAML document.
func IsYAML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// Decode parses a JSON or YAML body. YAML goes through the same strict JSON
// decoder so both encodings accept exactly the same documents. Malformed
// input is reported as a *ValidationError.
func Decode(contentType string, body []byte) (Specification, error) {
	body, err := ToJSON(contentType, body)
	if err != nil {
		return Specification{}, err
	}
	return decodeJSON(body)
}

// ToJSON returns body as JSON, converting YAML documents first.
func ToJSON(contentType string, body []byte) ([]byte, error) {
	if !IsYAML(contentType) {
		return body, nil
	}
	converted, err := yamlToJSON(body)
	if err != nil {
		return nil, invalid(err.Error())
	}
	return converted, nil
}

func decodeJSON(body []byte) (Specification, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Specification{}, invalid("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var spec Specification
	if err := dec.Decode(&spec); err != nil {
		return Specification{}, invalid("invalid json: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Specification{}, invalid("invalid json: trailing data")
	}
	return spec, nil
}

func yamlToJSON(body []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("request body is empty")
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, errors.New("invalid yaml: document must be a mapping")
	}
	out, err := json.Marshal(doc)
	if err != nil {
		// yaml.v3 decodes non-string keys to map[any]any which json rejects.
		return nil, fmt.Errorf("invalid yaml: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return out, nil
}
