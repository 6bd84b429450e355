package nfs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
const StopGrace = 2 * time.Second

// Logger receives diagnostic messages.
type Logger interface {
	Printf(format string, v ...any)
}

// process is the subset of a child process the supervisor drives.
type process interface {
	Terminate() error
	Kill() error
	Done() <-chan struct{}
}

// Server supervises a ganesha.nfsd process running on the host.
type Server struct {
	Port   int
	Logger Logger

	proc    process
	tempDir string
	grace   time.Duration
	once    sync.Once
	stopErr error
}

// Start writes cfg to a temporary directory and launches ganesha.nfsd in
// the foreground.
func Start(cfg *Config, logger Logger) (*Server, error) {
	bin, err := exec.LookPath("ganesha.nfsd")
	if err != nil {
		return nil, errors.New("ganesha.nfsd not found; install nfs-ganesha and nfs-ganesha-vfs, or run the server in the SDK container")
	}
	dir, err := os.MkdirTemp("", "avocado-nfs-")
	if err != nil {
		return nil, fmt.Errorf("create NFS config directory: %w", err)
	}
	confPath := filepath.Join(dir, "ganesha.conf")
	if err := os.WriteFile(confPath, []byte(cfg.Render()), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write Ganesha config: %w", err)
	}

	cmd := exec.Command(bin, "-f", confPath, "-p", filepath.Join(dir, "ganesha.pid"), "-F", "-L", "/dev/stderr")
	if cfg.Verbose {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("start ganesha.nfsd: %w", err)
	}
	if logger != nil {
		logger.Printf("started ganesha.nfsd pid %d on port %d with %d export(s)", cmd.Process.Pid, cfg.Port, len(cfg.Exports))
	}
	return newServer(cfg.Port, newCmdProcess(cmd), dir, logger), nil
}

func newServer(port int, p process, dir string, logger Logger) *Server {
	return &Server{Port: port, Logger: logger, proc: p, tempDir: dir, grace: StopGrace}
}

// Done is closed when the server process exits.
func (s *Server) Done() <-chan struct{} {
	return s.proc.Done()
}

// Stop sends SIGTERM, waits up to the grace period, then SIGKILLs. It is
// safe to call more than once.
func (s *Server) Stop() error {
	s.once.Do(func() {
		var result *multierror.Error
		select {
		case <-s.proc.Done():
		default:
			if err := s.proc.Terminate(); err != nil {
				result = multierror.Append(result, fmt.Errorf("terminate ganesha.nfsd: %w", err))
			}
			select {
			case <-s.proc.Done():
			case <-time.After(s.grace):
				s.logf("ganesha.nfsd did not exit after %s, killing it", s.grace)
				if err := s.proc.Kill(); err != nil {
					result = multierror.Append(result, fmt.Errorf("kill ganesha.nfsd: %w", err))
				}
				<-s.proc.Done()
			}
		}
		if s.tempDir != "" {
			if err := os.RemoveAll(s.tempDir); err != nil {
				result = multierror.Append(result, fmt.Errorf("remove NFS config directory: %w", err))
			}
		}
		s.stopErr = result.ErrorOrNil()
	})
	return s.stopErr
}

func (s *Server) logf(format string, v ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}

type cmdProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func newCmdProcess(cmd *exec.Cmd) *cmdProcess {
	p := &cmdProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p
}

func (p *cmdProcess) Terminate() error { return terminate(p.cmd.Process) }

func (p *cmdProcess) Kill() error { return kill(p.cmd.Process) }

func (p *cmdProcess) Done() <-chan struct{} { return p.done }
