package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

func renderPipfile(requirements map[string]any) (string, error) {
	out, err := toml.Marshal(tomlValue(requirements))
	if err != nil {
		return "", fmt.Errorf("render Pipfile: %w", err)
	}
	return string(out), nil
}

// renderLock matches the layout pipenv writes: sorted keys, four spaces.
func renderLock(locked map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(locked); err != nil {
		return "", fmt.Errorf("render Pipfile.lock: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func renderPipConf(hosts []string) string {
	var b strings.Builder
	b.WriteString("[global]\n")
	if len(hosts) > 0 {
		b.WriteString("trusted-host = " + strings.Join(hosts, " ") + "\n")
	}
	return b.String()
}

// trustedHosts merges the configured hosts with the hosts of every
// [[source]] declared in the Pipfile.
func trustedHosts(configured []string, requirements map[string]any) []string {
	set := map[string]bool{}
	for _, h := range configured {
		if h = strings.TrimSpace(h); h != "" {
			set[h] = true
		}
	}
	if sources, ok := requirements["source"].([]any); ok {
		for _, src := range sources {
			m, ok := src.(map[string]any)
			if !ok {
				continue
			}
			raw, _ := m["url"].(string)
			if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
				set[u.Hostname()] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// tomlValue turns decoded JSON numbers into native numbers so they are not
// rendered as TOML strings.
func tomlValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = tomlValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = tomlValue(item)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
