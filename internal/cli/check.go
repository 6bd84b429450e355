package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"avocado/internal/tools"
)

var checkJSON bool

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check external tool availability",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	cmd.Flags().BoolVar(&checkJSON, "json", false, "Output machine-readable JSON")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	prober := tools.Prober{Runner: newRunner()}
	probed := prober.Probe(cmd.Context())

	infos := make([]tools.ToolInfo, 0, len(probed))
	for _, info := range probed {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	out := cmd.OutOrStdout()
	if checkJSON {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		printCheckResult(out, infos)
	}

	if _, err := prober.SelectContainerTool(); err != nil {
		return err
	}
	return nil
}

func printCheckResult(out io.Writer, infos []tools.ToolInfo) {
	bold := lipgloss.NewStyle().Bold(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	faint := lipgloss.NewStyle().Faint(true)

	for _, info := range infos {
		if info.Available {
			headline := green.Render("✓") + " " + bold.Render(info.Name)
			if info.Version != "" {
				headline += " v" + info.Version
			}
			fmt.Fprintln(out, headline)
			detail := info.Path
			if info.Error != "" {
				detail += " · " + info.Error
			}
			fmt.Fprintln(out, faint.Render("  "+detail))
		} else {
			headline := red.Render("✗") + " " + bold.Render(info.Name)
			if info.Error != "" {
				headline += red.Render(" (" + info.Error + ")")
			}
			fmt.Fprintln(out, headline)
			for _, hint := range info.Hints {
				fmt.Fprintln(out, faint.Render("  "+hint))
			}
		}
		fmt.Fprintln(out)
	}
}
