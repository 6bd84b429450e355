package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"avocado/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the composed configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the composed, interpolated manifest as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the manifest for errors",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	})
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := yaml.Marshal(s.composed.Raw)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	results := s.composed.Validate()
	for _, r := range results {
		if r.Level == "error" {
			s.printer.Error("%s", r.Message)
		} else {
			s.printer.Warning("%s", r.Message)
		}
	}
	if config.HasErrors(results) {
		return errors.New("config validation failed")
	}
	s.printer.Success("Configuration %s is valid.", s.paths.ConfigFile)
	return nil
}
