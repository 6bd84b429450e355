package stamps

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinel separates a stamp path from its content in batch output.
const Sentinel = ":::"

func stampFile(rel string) string {
	return fmt.Sprintf("$AVOCADO_PREFIX/%s/%s", Dir, rel)
}

// WriteScript returns the shell fragment that stores s in the volume.
func WriteScript(s Stamp) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode stamp: %w", err)
	}
	if strings.Contains(string(data), Sentinel) {
		return "", fmt.Errorf("stamp %s contains the reserved sequence %q", s.RelativePath(), Sentinel)
	}
	rel := s.RelativePath()
	dir := rel[:strings.LastIndex(rel, "/")]
	return fmt.Sprintf(`
# stamp %[1]s
mkdir -p "$AVOCADO_PREFIX/%[2]s/%[3]s"
cat > "%[4]s" << 'STAMP_EOF'
%[5]s
STAMP_EOF
`, rel, Dir, dir, stampFile(rel), data), nil
}

// BatchReadScript prints one "<path>:::<json>" or "<path>:::null" line per
// requirement.
func BatchReadScript(reqs []Requirement) string {
	lines := make([]string, 0, len(reqs))
	for _, req := range reqs {
		rel := req.RelativePath()
		file := stampFile(rel)
		lines = append(lines, fmt.Sprintf(
			`printf '%%s' '%[1]s%[2]s'; if [ -f "%[3]s" ]; then tr -d '\n' < "%[3]s"; echo; else echo null; fi`,
			rel, Sentinel, file))
	}
	return strings.Join(lines, "\n")
}

// ParseBatchOutput maps each stamp path to its JSON, or nil when absent.
// Lines without the sentinel are ignored, so entrypoint chatter on stdout
// does not disturb parsing.
func ParseBatchOutput(output string) map[string][]byte {
	out := map[string][]byte{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		path, content, ok := strings.Cut(line, Sentinel)
		if !ok {
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" || content == "null" {
			out[path] = nil
			continue
		}
		out[path] = []byte(content)
	}
	return out
}

// CleanScript removes the stamps of every requirement's component
// directory, e.g. ext/<name>.
func CleanScript(reqs ...Requirement) string {
	seen := map[string]bool{}
	var b strings.Builder
	for _, req := range reqs {
		dir := req.Dir()
		if seen[dir] {
			continue
		}
		seen[dir] = true
		fmt.Fprintf(&b, "rm -rf \"$AVOCADO_PREFIX/%s/%s\"\n", Dir, dir)
	}
	return b.String()
}

// CleanAllScript removes every stamp in the volume for the active target.
func CleanAllScript() string {
	return fmt.Sprintf("rm -rf \"$AVOCADO_PREFIX/%s\"\n", Dir)
}
