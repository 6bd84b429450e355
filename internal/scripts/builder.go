// Package scripts renders the shell bodies avocado runs inside the SDK
// container.
package scripts

import (
	"fmt"
	"strings"
)

// Builder assembles a script from labeled sections so generated output
// diffs section by section.
type Builder struct {
	b strings.Builder
}

// NewBuilder starts a script with `set -e`.
func NewBuilder() *Builder {
	bl := &Builder{}
	bl.b.WriteString("set -e\n")
	return bl
}

// Section starts a new labeled section.
func (bl *Builder) Section(label string) *Builder {
	fmt.Fprintf(&bl.b, "\n# --- %s ---\n", label)
	return bl
}

// Line appends one formatted line. Literal text containing % goes through Raw.
func (bl *Builder) Line(format string, v ...any) *Builder {
	fmt.Fprintf(&bl.b, format, v...)
	bl.b.WriteByte('\n')
	return bl
}

// Raw appends a block verbatim, adding a trailing newline when missing.
func (bl *Builder) Raw(block string) *Builder {
	bl.b.WriteString(block)
	if !strings.HasSuffix(block, "\n") {
		bl.b.WriteByte('\n')
	}
	return bl
}

// Var appends NAME="value" with the value double-quote escaped.
func (bl *Builder) Var(name, value string) *Builder {
	return bl.Line(`%s="%s"`, name, escapeDouble(value))
}

func (bl *Builder) String() string {
	return bl.b.String()
}

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'$`\\|&;<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every word and joins them with spaces.
func QuoteAll(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}

func escapeDouble(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(s)
}
