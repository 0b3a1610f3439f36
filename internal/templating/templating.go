// Package templating makes values safe to embed as single-quoted literals in
// workflow template parameters, where the only escape is a doubled quote.
package templating

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-inspect/internal/specification"
)

// castKeys are integer fields that cross the template boundary as strings.
var castKeys = []string{"batch_size", "allowed_failures", "parallelism"}

// EscapeString doubles every single quote.
func EscapeString(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + strings.Count(s, "'"))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString("''")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UnescapeString collapses every doubled single quote into one. A lone quote
// is kept as is.
func UnescapeString(s string) string {
	if !strings.Contains(s, "''") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b.WriteByte(s[i])
		if s[i] == '\'' && i+1 < len(s) && s[i+1] == '\'' {
			i++
		}
	}
	return b.String()
}

// Escape walks mappings and sequences and escapes string leaves. Keys are
// left untouched and the input is not modified.
func Escape(v any) any {
	return walk(v, EscapeString)
}

func Unescape(v any) any {
	return walk(v, UnescapeString)
}

func walk(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = walk(item, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = walk(item, fn)
		}
		return out
	default:
		return v
	}
}

// EscapeSpecification converts spec to its generic tree, escapes it and turns
// the integer batch controls into base-10 strings.
func EscapeSpecification(spec specification.Specification) (map[string]any, error) {
	tree, err := toTree(spec)
	if err != nil {
		return nil, err
	}
	escaped := Escape(tree).(map[string]any)
	for _, key := range castKeys {
		v, ok := escaped[key]
		if !ok {
			continue
		}
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s: expected a number, got %T", key, v)
		}
		if _, err := strconv.Atoi(n.String()); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		escaped[key] = n.String()
	}
	return escaped, nil
}

// UnescapeSpecification reverses EscapeSpecification.
func UnescapeSpecification(tree map[string]any) (specification.Specification, error) {
	plain := Unescape(tree).(map[string]any)
	for _, key := range castKeys {
		v, ok := plain[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return specification.Specification{}, fmt.Errorf("%s: %q is not a base-10 integer", key, t)
			}
			plain[key] = n
		case json.Number:
			if _, err := t.Int64(); err != nil {
				return specification.Specification{}, fmt.Errorf("%s: %q is not a base-10 integer", key, t)
			}
		case float64:
			if t != float64(int64(t)) {
				return specification.Specification{}, fmt.Errorf("%s: %v is not an integer", key, t)
			}
		default:
			return specification.Specification{}, fmt.Errorf("%s: unexpected %T", key, v)
		}
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return specification.Specification{}, fmt.Errorf("marshal specification: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var spec specification.Specification
	if err := dec.Decode(&spec); err != nil {
		return specification.Specification{}, fmt.Errorf("decode specification: %w", err)
	}
	return spec, nil
}

// DecodeTree parses a stored, escaped specification document.
func DecodeTree(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("specification document is null")
	}
	return tree, nil
}

func toTree(spec specification.Specification) (map[string]any, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal specification: %w", err)
	}
	return DecodeTree(data)
}
