package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var templatePattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

const maxInterpolationPasses = 100

// Interpolate resolves {{ context.key }} templates in keys and string values
// of root, in place. Supported contexts are env, config and avocado. target
// is the target of the root invocation and wins over any value found in the
// tree. warn receives non-fatal notes such as unset environment variables.
func Interpolate(root Map, target string, warn func(string)) error {
	if warn == nil {
		warn = func(string) {}
	}
	in := interpolator{root: root, target: target, warn: warn}

	seen := map[string]bool{}
	for pass := 0; pass < maxInterpolationPasses; pass++ {
		fp, err := fingerprint(root)
		if err != nil {
			return err
		}
		if seen[fp] {
			return fmt.Errorf("circular template reference detected during interpolation")
		}
		seen[fp] = true

		changed, err := in.mapping(root, "")
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
	return fmt.Errorf("template interpolation did not settle after %d passes", maxInterpolationPasses)
}

// HasTemplate reports whether s contains a template expression.
func HasTemplate(s string) bool {
	return templatePattern.MatchString(s)
}

// InterpolateName resolves only {{ avocado.target }} in s. Used for names
// read before a full composition exists.
func InterpolateName(s, target string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(tmpl string) string {
		expr := strings.TrimSpace(templatePattern.FindStringSubmatch(tmpl)[1])
		if expr == "avocado.target" && target != "" {
			return target
		}
		return tmpl
	})
}

type interpolator struct {
	root   Map
	target string
	warn   func(string)
}

func (in interpolator) mapping(m Map, path string) (bool, error) {
	changed := false
	for _, key := range SortedKeys(m) {
		val := m[key]
		keyPath := joinPath(path, key)

		newVal, valChanged, err := in.value(val, keyPath)
		if err != nil {
			return false, err
		}
		newKey, keyChanged, err := in.str(key, keyPath)
		if err != nil {
			return false, err
		}
		if keyChanged {
			delete(m, key)
		}
		if keyChanged || valChanged {
			m[newKey] = newVal
			changed = true
		}
	}
	return changed, nil
}

func (in interpolator) value(v any, path string) (any, bool, error) {
	switch t := v.(type) {
	case string:
		return in.str(t, path)
	case Map:
		changed, err := in.mapping(t, path)
		return t, changed, err
	case []any:
		changed := false
		for i, item := range t {
			newItem, itemChanged, err := in.value(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, false, err
			}
			if itemChanged {
				t[i] = newItem
				changed = true
			}
		}
		return t, changed, nil
	default:
		return v, false, nil
	}
}

func (in interpolator) str(s, path string) (string, bool, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, false, nil
	}

	var b strings.Builder
	last := 0
	changed := false
	for _, m := range matches {
		expr := strings.TrimSpace(s[m[2]:m[3]])
		b.WriteString(s[last:m[0]])
		last = m[1]

		repl, ok, err := in.resolve(expr)
		if err != nil {
			return "", false, fmt.Errorf("interpolate %q at %s: %w", s[m[0]:m[1]], path, err)
		}
		if !ok {
			b.WriteString(s[m[0]:m[1]])
			continue
		}
		if referencesExpr(repl, expr) {
			return "", false, fmt.Errorf("circular template reference: '%s' at %s resolves to itself", expr, path)
		}
		b.WriteString(repl)
		changed = true
	}
	b.WriteString(s[last:])
	return b.String(), changed, nil
}

// resolve returns the replacement for expr. ok is false when the template
// should be left untouched.
func (in interpolator) resolve(expr string) (string, bool, error) {
	context, key, found := strings.Cut(expr, ".")
	if !found || key == "" {
		return "", false, fmt.Errorf("invalid template expression '%s'", expr)
	}

	switch context {
	case "env":
		if v, ok := os.LookupEnv(key); ok {
			return v, true, nil
		}
		in.warn(fmt.Sprintf("environment variable '%s' is not set; substituting empty string", key))
		return "", true, nil
	case "config":
		v, ok := LookupPath(in.root, key)
		if !ok {
			return "", false, fmt.Errorf("config path '%s' not found in configuration", expr)
		}
		s, err := renderValue(v)
		return s, err == nil, err
	case "avocado":
		if key != "target" {
			return "", false, nil
		}
		if in.target != "" {
			return in.target, true, nil
		}
		if env := os.Getenv("AVOCADO_TARGET"); env != "" {
			return env, true, nil
		}
		if dt, ok := in.root["default_target"].(string); ok && dt != "" && !HasTemplate(dt) {
			return dt, true, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unknown template context '%s'", context)
	}
}

func referencesExpr(s, expr string) bool {
	for _, m := range templatePattern.FindAllStringSubmatch(s, -1) {
		if strings.TrimSpace(m[1]) == expr {
			return true
		}
	}
	return false
}

func renderValue(v any) (string, error) {
	switch v.(type) {
	case Map, []any:
		buf, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("render config value: %w", err)
		}
		return strings.TrimRight(string(buf), "\n"), nil
	default:
		return ScalarString(v), nil
	}
}

func fingerprint(root Map) (string, error) {
	buf, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("fingerprint configuration: %w", err)
	}
	return string(buf), nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
