package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/config"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

// Render writes a command envelope. Selected fields may be dotted paths into
// nested objects, e.g. "quote.amount_out" on a swap record.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = selectFields(data, settings.SelectFields)
	}
	jsonMode := settings.OutputMode == "json"

	switch {
	case settings.ResultsOnly && env.Error == nil && jsonMode:
		return writeJSON(w, data)
	case settings.ResultsOnly && env.Error == nil:
		return writeRecords(w, data)
	case jsonMode:
		env.Data = data
		return writeJSON(w, env)
	}

	if env.Error != nil {
		if _, err := failColor.Fprintf(w, "error [%s]: %s\n", env.Error.Type, env.Error.Message); err != nil {
			return err
		}
	}
	for _, warning := range env.Warnings {
		if _, err := warnColor.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	if env.Success {
		if err := writeRecords(w, data); err != nil {
			return err
		}
	}
	_, err := dimColor.Fprintf(w, "%s %s\n", env.Meta.Command, env.Meta.RequestID)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRecords prints one key=value line per record. Nested objects are
// flattened with dotted keys so every field stays greppable.
func writeRecords(w io.Writer, data any) error {
	switch t := generic(data).(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			if _, err := fmt.Fprintln(w, recordLine(item)); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, recordLine(t))
		return err
	}
}

func recordLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, _ := json.Marshal(v)
		return string(buf)
	}
	flat := map[string]any{}
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, flat[k]))
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, m map[string]any, into map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, into)
			continue
		}
		into[key] = v
	}
}

func selectFields(data any, fields []string) any {
	switch t := generic(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, pick(m, fields))
			}
		}
		return out
	case map[string]any:
		return pick(t, fields)
	default:
		return t
	}
}

func pick(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// generic round-trips v through JSON so struct tags decide field names.
func generic(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}
