package stamps

import (
	"fmt"
	"sort"
	"strings"
)

// Status of one requirement after validation.
type Status int

const (
	Missing Status = iota
	Stale
	Current
)

// StaleEntry pairs a stale requirement with the reason.
type StaleEntry struct {
	Requirement Requirement
	Reason      string
}

// Result splits requirements by status, in request order.
type Result struct {
	Satisfied []Requirement
	Missing   []Requirement
	Stale     []StaleEntry
}

// OK reports whether nothing is missing or stale.
func (r Result) OK() bool {
	return len(r.Missing) == 0 && len(r.Stale) == 0
}

// Check classifies a single stamp. data is the raw JSON or nil; inputs may
// be nil to skip the freshness check.
func Check(data []byte, inputs *Inputs) (Status, string) {
	if len(data) == 0 {
		return Missing, ""
	}
	s, err := Parse(data)
	if err != nil || !s.Success {
		return Missing, ""
	}
	if inputs != nil && !s.IsCurrent(*inputs) {
		return Stale, "config hash mismatch"
	}
	return Current, ""
}

// Validate checks reqs against parsed batch output. current maps relative
// paths to freshly computed inputs; requirements without an entry are only
// checked for presence.
func Validate(reqs []Requirement, stamps map[string][]byte, current map[string]Inputs) Result {
	var res Result
	for _, req := range reqs {
		rel := req.RelativePath()
		var inputs *Inputs
		if in, ok := current[rel]; ok {
			inputs = &in
		}
		switch status, reason := Check(stamps[rel], inputs); status {
		case Current:
			res.Satisfied = append(res.Satisfied, req)
		case Stale:
			res.Stale = append(res.Stale, StaleEntry{Requirement: req, Reason: reason})
		default:
			res.Missing = append(res.Missing, req)
		}
	}
	return res
}

// Err returns nil when the result is satisfied, else a *ValidationError for
// the described operation.
func (r Result) Err(operation string) error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Operation: operation, Missing: r.Missing, Stale: r.Stale}
}

// ValidationError lists every missing and stale predecessor of a command.
type ValidationError struct {
	Operation string
	Missing   []Requirement
	Stale     []StaleEntry
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s - dependencies not satisfied\n\n", e.Operation)

	if len(e.Missing) > 0 {
		b.WriteString("  Missing steps:\n")
		for _, req := range e.Missing {
			fmt.Fprintf(&b, "    - %s (%s)\n", req.Description(), req.RelativePath())
		}
		b.WriteString("\n")
	}
	if len(e.Stale) > 0 {
		b.WriteString("  Stale steps (config changed):\n")
		for _, s := range e.Stale {
			fmt.Fprintf(&b, "    - %s (%s: %s)\n", s.Requirement.Description(), s.Requirement.RelativePath(), s.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("To fix:\n")
	for _, fix := range e.FixCommands() {
		fmt.Fprintf(&b, "  %s\n", fix)
	}
	return b.String()
}

// FixCommands returns the distinct commands that would satisfy the error,
// sorted.
func (e *ValidationError) FixCommands() []string {
	seen := map[string]bool{}
	var fixes []string
	add := func(req Requirement) {
		fix := req.FixCommand()
		if !seen[fix] {
			seen[fix] = true
			fixes = append(fixes, fix)
		}
	}
	for _, req := range e.Missing {
		add(req)
	}
	for _, s := range e.Stale {
		add(s.Requirement)
	}
	sort.Strings(fixes)
	return fixes
}
