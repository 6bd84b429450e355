package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"avocado/internal/container"
	"avocado/internal/deps"
	"avocado/internal/nfs"
)

var (
	hitlExts   []string
	hitlPort   int
	hitlDetach bool
	hitlHost   bool
)

// portProbe is replaced in tests.
var portProbe nfs.PortProbe = nfs.TCPProbe

func newHITLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hitl",
		Short: "Hardware-in-the-loop helpers",
	}
	server := &cobra.Command{
		Use:   "server -e <ext>...",
		Short: "Export extension sysroots over NFS",
		Args:  cobra.NoArgs,
		RunE:  runHITLServer,
	}
	server.Flags().StringArrayVarP(&hitlExts, "extension", "e", nil, "Extension to export (repeatable)")
	server.Flags().IntVarP(&hitlPort, "port", "p", 0, fmt.Sprintf("NFS port (default %d, else the first free port in %d-%d)", nfs.DefaultPort, nfs.PortRangeStart, nfs.PortRangeEnd))
	server.Flags().BoolVar(&hitlDetach, "detach", false, "Run the server container in the background")
	server.Flags().BoolVar(&hitlHost, "host", false, "Run ganesha.nfsd on the host against the volume mountpoint")
	cmd.AddCommand(server)
	return cmd
}

func runHITLServer(cmd *cobra.Command, _ []string) error {
	if len(hitlExts) == 0 {
		return errors.New("at least one extension is required (-e/--extension)")
	}
	if hitlHost && hitlDetach {
		return errors.New("--detach is only supported when the server runs in the SDK container")
	}
	s, err := openSession(cmd, sessionOptions{needTarget: true})
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	for _, name := range hitlExts {
		if err := s.requireExt(name); err != nil {
			return err
		}
	}
	if err := s.requireStamps(ctx, "hitl server", deps.ForHITL(hitlExts)); err != nil {
		return err
	}

	port, err := nfs.SelectPort(hitlPort, portProbe)
	if err != nil {
		return err
	}
	cfg := nfs.NewConfig(port)
	cfg.Verbose = verbose

	if hitlHost {
		return serveOnHost(cmd, s, cfg)
	}

	cfg.AddExtensions(path.Join(container.VolumeMount, s.target, "extensions"), hitlExts)
	rc := s.runConfig(nfs.ContainerScript(cfg))
	rc.ContainerName = "avocado-nfs-" + uuid.NewString()[:8]
	rc.ContainerArgs = append(rc.ContainerArgs, nfs.ContainerArgs(port, !s.exec.IsDockerDesktop(ctx))...)
	rc.Detach = hitlDetach
	rc.Interactive = !hitlDetach

	s.printer.Info("Starting NFS server on port %d exporting %s.", port, strings.Join(hitlExts, ", "))
	if err := s.run(ctx, rc, "NFS server container failed"); err != nil {
		return err
	}
	if hitlDetach {
		s.printer.Success("NFS server container '%s' is running on port %d.", rc.ContainerName, port)
	}
	return nil
}

// serveOnHost runs ganesha.nfsd directly against the volume's mountpoint
// until interrupted.
func serveOnHost(cmd *cobra.Command, s *session, cfg *nfs.Config) error {
	ctx := cmd.Context()
	st, err := s.exec.Volume(ctx)
	if err != nil {
		return err
	}
	info, err := s.exec.Volumes.Inspect(ctx, st.VolumeName)
	if err != nil {
		return err
	}
	if info.Mountpoint == "" {
		return fmt.Errorf("volume %s has no host mountpoint", st.VolumeName)
	}
	cfg.AddExtensions(filepath.Join(info.Mountpoint, s.target, "extensions"), hitlExts)

	srv, err := nfs.Start(cfg, s.logger)
	if err != nil {
		return err
	}
	s.printer.Success("NFS server listening on port %d exporting %s. Press Ctrl-C to stop.", cfg.Port, strings.Join(hitlExts, ", "))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exitErr error
	select {
	case <-sigCtx.Done():
		s.printer.Info("Stopping NFS server.")
	case <-srv.Done():
		exitErr = errors.New("ganesha.nfsd exited unexpectedly")
	}
	if err := srv.Stop(); err != nil && exitErr == nil {
		exitErr = fmt.Errorf("stop NFS server: %w", err)
	}
	return exitErr
}
