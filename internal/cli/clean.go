package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"avocado/internal/stamps"
	"avocado/internal/volume"
)

var (
	cleanVolumes bool
	cleanStamps  bool
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the project volume, its state file and .avocado metadata",
		Args:  cobra.NoArgs,
		RunE:  runClean,
	}
	cmd.Flags().BoolVar(&cleanVolumes, "volumes", false, "Also remove containers still using the volume")
	cmd.Flags().BoolVar(&cleanStamps, "stamps", false, "Only remove the stamps of the active target")
	return cmd
}

func runClean(cmd *cobra.Command, _ []string) error {
	if cleanStamps {
		return runCleanStamps(cmd)
	}

	s, err := openSession(cmd, sessionOptions{lock: true})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	root := s.paths.Root
	printer := s.printer

	removeVolume := func() error {
		st, err := volume.LoadFromDir(root)
		if err != nil {
			return err
		}
		if st == nil {
			printer.Info("No %s file in %s; nothing to remove.", volume.StateFileName, root)
			return nil
		}
		exists, err := s.exec.Volumes.Exists(ctx, st.VolumeName)
		if err != nil {
			return err
		}
		if exists {
			remove := s.exec.Volumes.Remove
			if cleanVolumes {
				remove = s.exec.Volumes.ForceRemove
			}
			if err := remove(ctx, st.VolumeName); err != nil {
				return err
			}
			printer.Success("Removed volume %s.", st.VolumeName)
		} else {
			printer.Info("Volume %s no longer exists.", st.VolumeName)
		}
		return volume.RemoveFromDir(root)
	}
	err = removeVolume()
	s.Close()
	if err != nil {
		return err
	}

	if err := os.RemoveAll(s.paths.MetaDir); err != nil {
		return fmt.Errorf("remove %s: %w", s.paths.MetaDir, err)
	}
	printer.Success("Cleaned project in %s.", root)
	return nil
}

func runCleanStamps(cmd *cobra.Command) error {
	s, err := openSession(cmd, sessionOptions{needTarget: true, lock: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.run(cmd.Context(), s.runConfig(stamps.CleanAllScript()), "Failed to remove stamps"); err != nil {
		return err
	}
	s.printer.Success("Removed all stamps for target '%s'.", s.target)
	return nil
}
