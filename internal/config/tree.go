package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Map is a manifest mapping node as decoded from YAML.
type Map = map[string]any

// normalize converts YAML-decoded values into Map / []any trees with string
// keys so the rest of the package only handles one shape.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(Map, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(Map, len(t))
		for k, val := range t {
			out[keyString(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func keyString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}

// deepCopy clones mappings and sequences; scalars are shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case Map:
		out := make(Map, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Lookup walks a dotted path of mapping keys.
func Lookup(root any, path ...string) (any, bool) {
	current := root
	for _, part := range path {
		m, ok := current.(Map)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupPath is Lookup over a dot-separated path.
func LookupPath(root any, dotted string) (any, bool) {
	if dotted == "" {
		return root, true
	}
	return Lookup(root, strings.Split(dotted, ".")...)
}

// AsMap returns v as a mapping.
func AsMap(v any) (Map, bool) {
	m, ok := v.(Map)
	return m, ok
}

// MapAt returns the mapping at path, or nil.
func MapAt(root any, path ...string) Map {
	v, ok := Lookup(root, path...)
	if !ok {
		return nil
	}
	m, _ := v.(Map)
	return m
}

// StringAt returns the string at path.
func StringAt(root any, path ...string) (string, bool) {
	v, ok := Lookup(root, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ScalarString renders scalars the way templates and specs see them.
func ScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// StringList accepts a sequence of scalars or a single scalar.
func StringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, ScalarString(item))
		}
		return out
	default:
		return []string{ScalarString(t)}
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ensureMap(parent Map, key string) Map {
	if existing, ok := parent[key].(Map); ok {
		return existing
	}
	m := Map{}
	parent[key] = m
	return m
}
