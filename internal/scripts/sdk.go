package scripts

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// CompileCommand runs a compile or clean script found at scriptPath, a path
// relative to /opt/src, for section.
func CompileCommand(section, kind, scriptPath string) (string, error) {
	words, err := shellwords.Parse(scriptPath)
	if err != nil {
		return "", fmt.Errorf("sdk.compile.%s.%s: %w", section, kind, err)
	}
	if len(words) == 0 {
		return "", fmt.Errorf("sdk.compile.%s.%s: empty script path", section, kind)
	}
	script := Quote(words[0])
	args := QuoteAll(words[1:])

	bl := &Builder{}
	bl.Line(`if [ -f %s ]; then`, script)
	bl.Line(`    echo "[INFO] Running %s script for section '%s': %s"`, kind, escapeDouble(section), escapeDouble(words[0]))
	bl.Line(`    AVOCADO_SDK_PREFIX=$AVOCADO_SDK_PREFIX bash %s %s`, script, args)
	bl.Line(`else`)
	bl.Line(`    echo "[ERROR] %s script %s not found."`, capitalize(kind), escapeDouble(words[0]))
	bl.Line(`    ls -la`)
	bl.Line(`    exit 1`)
	bl.Line(`fi`)
	return bl.String(), nil
}

// SDKClean removes the SDK sysroot. Stamps are cleared separately.
func SDKClean() string {
	bl := NewBuilder()
	bl.Line(`if [ -d "$AVOCADO_SDK_PREFIX" ]; then`)
	bl.Line(`    rm -rf "$AVOCADO_SDK_PREFIX"`)
	bl.Line(`    echo "[INFO] Removed $AVOCADO_SDK_PREFIX."`)
	bl.Line(`fi`)
	return bl.String()
}

// ExtClean removes an extension's sysroot and output artifacts.
func ExtClean(name string) string {
	bl := NewBuilder()
	bl.Var("EXT_NAME", name)
	bl.Line(`rm -rf "$AVOCADO_EXT_SYSROOTS/$EXT_NAME"`)
	bl.Line(`rm -f "$AVOCADO_PREFIX/output/extensions/$EXT_NAME"-*.raw`)
	bl.Line(`rm -f "$AVOCADO_PREFIX/output/extensions/$EXT_NAME"-*.rpm`)
	bl.Line(`rm -f "$AVOCADO_PREFIX/output/extensions/nativesdk-$EXT_NAME"-*.rpm`)
	bl.Line(`echo "[INFO] Cleaned extension '$EXT_NAME'."`)
	return bl.String()
}

// RuntimeClean removes a runtime's sysroot and build output.
func RuntimeClean(name string) string {
	bl := NewBuilder()
	bl.Var("RUNTIME_NAME", name)
	bl.Line(`rm -rf "$AVOCADO_PREFIX/runtimes/$RUNTIME_NAME"`)
	bl.Line(`rm -rf "$AVOCADO_PREFIX/output/runtimes/$RUNTIME_NAME"`)
	bl.Line(`echo "[INFO] Cleaned runtime '$RUNTIME_NAME'."`)
	return bl.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
