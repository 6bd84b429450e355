package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"avocado/internal/stamps"
)

// version is stamped into every stamp file; overridden with -ldflags.
var version = "0.1.0-dev"

var (
	configPath    string
	targetFlag    string
	verbose       bool
	noStamps      bool
	strict        bool
	containerArgs []string
	dnfArgs       []string
	sdkArch       string
)

// Execute runs the root cobra command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError prints stamp validation failures verbatim; they already carry
// their own fix instructions.
func printError(w io.Writer, err error) {
	var verr *stamps.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprint(w, verr.Error())
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "avocado",
		Short:         "Build system extensions and runtimes in the Avocado SDK container",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globalFlags(cmd.PersistentFlags())

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newSDKCmd())
	cmd.AddCommand(newExtCmd())
	cmd.AddCommand(newRuntimeCmd())
	cmd.AddCommand(newHITLCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newCheckCmd())

	return cmd
}

func globalFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "C", "", "Path to avocado.yaml (or its directory)")
	flags.StringVarP(&targetFlag, "target", "t", "", "Target architecture (overrides AVOCADO_TARGET)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print debug output and pass AVOCADO_VERBOSE to the SDK")
	flags.BoolVar(&noStamps, "no-stamps", false, "Skip stamp validation and recording")
	flags.BoolVar(&strict, "strict", false, "Fail when an external manifest cannot be loaded")
	flags.StringArrayVar(&containerArgs, "container-arg", nil, "Extra argument for the container run (repeatable)")
	flags.StringArrayVar(&dnfArgs, "dnf-arg", nil, "Extra argument for DNF (repeatable)")
	flags.StringVar(&sdkArch, "sdk-arch", "", "Run a foreign-architecture SDK image (e.g. aarch64)")
}
