package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ErrValidation marks arguments that do not satisfy a tool schema.
var ErrValidation = errors.New("invalid arguments")

// Validate checks args against schema and returns a normalized copy: enum
// values are rewritten to their declared spelling. Arguments without a
// declared property are passed through untouched.
func Validate(schema mcptypes.ToolInputSchema, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, name := range schema.Required {
		v, ok := out[name]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: missing required argument %q", ErrValidation, name)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: missing required argument %q", ErrValidation, name)
		}
	}

	for name, v := range out {
		prop, ok := schema.Properties[name].(map[string]any)
		if !ok || v == nil {
			continue
		}
		if kind, ok := prop["type"].(string); ok && !matchesKind(kind, v) {
			return nil, fmt.Errorf("%w: argument %q must be of type %s", ErrValidation, name, kind)
		}
		if enum := enumValues(prop["enum"]); len(enum) > 0 {
			canonical, ok := matchEnum(enum, v)
			if !ok {
				return nil, fmt.Errorf("%w: argument %q must be one of %s", ErrValidation, name, strings.Join(enum, ", "))
			}
			out[name] = canonical
		}
	}

	return out, nil
}

func matchesKind(kind string, v any) bool {
	switch kind {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func enumValues(raw any) []string {
	switch e := raw.(type) {
	case []string:
		return e
	case []any:
		out := make([]string, 0, len(e))
		for _, v := range e {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	return nil
}

func matchEnum(enum []string, v any) (string, bool) {
	s := strings.TrimSpace(fmt.Sprint(v))
	for _, allowed := range enum {
		if strings.EqualFold(allowed, s) {
			return allowed, true
		}
	}
	return "", false
}
