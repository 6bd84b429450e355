package tools

import (
	"regexp"
	"strings"
)

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

var versionRegex = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){1,3}`)

// normalizeVersion extracts the dotted version number from a tool's
// version banner, e.g. "Docker version 27.3.1, build ce12230" -> 27.3.1.
func normalizeVersion(output string) string {
	line := firstLine(strings.TrimSpace(output))
	if match := versionRegex.FindString(line); match != "" {
		return match
	}
	return line
}
