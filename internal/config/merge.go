package config

// MergeValues overlays override onto base. Two mappings merge recursively
// with override winning on conflicting keys; any other pairing returns
// override. Inputs are not modified.
func MergeValues(base, override any) any {
	baseMap, baseOK := base.(Map)
	overMap, overOK := override.(Map)
	if !baseOK || !overOK {
		return deepCopy(override)
	}

	out := deepCopy(baseMap).(Map)
	for k, v := range overMap {
		if existing, ok := out[k]; ok {
			out[k] = MergeValues(existing, v)
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

// FilterTargets drops immediate keys of v that name a supported target so
// target subsections do not leak into a base-only view.
func FilterTargets(v any, targets []string) any {
	m, ok := v.(Map)
	if !ok || len(targets) == 0 {
		return v
	}
	out := make(Map, len(m))
	skip := make(map[string]bool, len(targets))
	for _, t := range targets {
		skip[t] = true
	}
	for k, val := range m {
		if skip[k] {
			continue
		}
		out[k] = val
	}
	return out
}

// mergeMissing copies keys from src into dst that dst lacks, recursing into
// mappings present on both sides. dst wins on conflicts.
func mergeMissing(dst Map, src Map) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = deepCopy(v)
			continue
		}
		dm, dok := existing.(Map)
		sm, sok := v.(Map)
		if dok && sok {
			mergeMissing(dm, sm)
		}
	}
}
