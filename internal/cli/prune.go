package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"avocado/internal/output"
	"avocado/internal/prune"
	"avocado/internal/tui"
	"avocado/internal/volume"
)

var pruneDryRun bool

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove volumes left behind by deleted or moved projects",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
	cmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "List what would be removed without deleting")
	return cmd
}

// printReporter reports prune progress one line per event.
type printReporter struct {
	printer *output.Printer
	dryRun  bool
}

func (r printReporter) Classified(v prune.Verdict) {
	switch {
	case !v.Abandoned:
		r.printer.Info("Volume %s is active.", v.Name)
	case r.dryRun:
		r.printer.Warning("Would remove volume %s: %s.", v.Name, v.Reason)
	default:
		r.printer.Warning("Volume %s is abandoned: %s.", v.Name, v.Reason)
	}
}

func (r printReporter) Removed(name string) {
	r.printer.Success("Removed volume %s.", name)
}

func (r printReporter) Failed(name string, err error) {
	r.printer.Error("Failed to remove volume %s: %v", name, err)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	printer := output.New(out, cmd.ErrOrStderr(), verbose)

	tool, err := selectContainerTool()
	if err != nil {
		return err
	}
	pruner := &prune.Pruner{
		Volumes: volume.NewManager(tool, newRunner(), printer),
		DryRun:  pruneDryRun,
		Logger:  printer,
	}

	candidates, err := pruner.Candidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		printer.Info("No avocado volumes found.")
		return nil
	}

	var report prune.Report
	if tui.DetectMode(out, verbose) == tui.ModeInteractive {
		err = tui.RunWithWork(out, tui.NewVolumeTable(candidates), func(send func(tea.Msg)) error {
			pruner.Reporter = tui.NewPruneReporter(send)
			var runErr error
			report, runErr = pruner.RunOn(ctx, candidates)
			return runErr
		})
	} else {
		pruner.Reporter = printReporter{printer: printer, dryRun: pruneDryRun}
		report, err = pruner.RunOn(ctx, candidates)
	}

	fmt.Fprintln(out, pruneSummary(report))
	return err
}

func pruneSummary(r prune.Report) string {
	var b strings.Builder
	if r.DryRun {
		abandoned := len(r.Verdicts) - r.Active()
		fmt.Fprintf(&b, "Dry run complete: %d active, %d would be removed", r.Active(), abandoned)
		return b.String()
	}
	fmt.Fprintf(&b, "Prune complete: %d active, %d removed", r.Active(), len(r.Removed))
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, ", %d failed", len(r.Failed))
	}
	return b.String()
}
