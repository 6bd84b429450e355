// Package shellargs tokenizes and expands user-supplied container arguments.
package shellargs

import (
	"os"
	"strings"
)

// Split breaks s on unquoted whitespace. Paired double quotes group
// whitespace into one token and are dropped from the result; quotes do not
// nest. An unterminated quote runs to the end of the input.
func Split(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		inQuote bool
		started bool
	)

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// SplitAll tokenizes every entry of args and concatenates the results.
func SplitAll(args []string) []string {
	var out []string
	for _, arg := range args {
		out = append(out, Split(arg)...)
	}
	return out
}

// ExpandEnv replaces $VAR and ${VAR} with values from the process
// environment. Undefined variables expand to the empty string and `\$`
// yields a literal dollar sign.
func ExpandEnv(s string) string {
	return Expand(s, os.Getenv)
}

// Expand is ExpandEnv with a caller-supplied lookup.
func Expand(s string, lookup func(string) string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}

		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteString(lookup(s[i+2 : i+2+end]))
			i += end + 2
			continue
		}

		j := i + 1
		for j < len(s) && isNameByte(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		b.WriteString(lookup(s[i+1 : j]))
		i = j - 1
	}
	return b.String()
}

// ExpandAll applies ExpandEnv to every entry.
func ExpandAll(args []string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = ExpandEnv(arg)
	}
	return out
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Quote renders s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isNameByte(c) && !strings.ContainsRune("@%+=:,./-", rune(c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
