package engine

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const defaultKillGrace = 2 * time.Second

// SpawnOptions tune how an engine process is started and stopped.
type SpawnOptions struct {
	Args []string
	// KillGrace is how long Terminate waits after asking the process to stop
	// before killing it.
	KillGrace time.Duration
	// Stderr receives the engine's stderr lines at debug level. When nil the
	// stream is discarded.
	Stderr *slog.Logger
}

// Process is one running engine binary with its stdin and stdout piped.
// Reads and writes are not synchronized; the owner serializes them.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// Spawn starts the engine at path.
func Spawn(path string, opts SpawnOptions) (*Process, error) {
	cmd := exec.Command(path, opts.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	var stderr io.ReadCloser
	if opts.Stderr != nil {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	grace := opts.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  grace,
		done:   make(chan struct{}),
	}
	if stderr != nil {
		go forwardStderr(opts.Stderr.With("pid", p.Pid()), stderr)
	}
	return p, nil
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Write sends raw bytes to the engine's stdin.
func (p *Process) Write(b []byte) (int, error) {
	n, err := p.stdin.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return n, nil
}

// Read reads the next chunk of the engine's stdout. It returns io.EOF once
// the process has closed its output.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Done is closed after the process has been terminated and reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Terminate releases both pipes, asks the process to stop, and kills it if
// it is still running after the grace period. Every step ignores its own
// failure. Calling Terminate again waits for the first call to finish.
func (p *Process) Terminate() {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.stdout.Close()

		go func() {
			_ = p.cmd.Wait()
			close(p.done)
		}()

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = p.cmd.Process.Kill()
		}
		select {
		case <-p.done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
		}
	})
	<-p.done
}

func forwardStderr(logger *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("engine stderr", "line", scanner.Text())
	}
}
