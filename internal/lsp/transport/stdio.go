package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

// DefaultSettleDelay is how long a freshly spawned server must stay alive,
// without reporting an error on stderr, before Connect succeeds.
const DefaultSettleDelay = 200 * time.Millisecond

const readBufferSize = 32 * 1024

type StdioConfig struct {
	Command     string
	Args        []string
	Env         map[string]string
	Dir         string
	SettleDelay time.Duration
}

// process is the state of one spawned server.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	exitErr error
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Stdio runs a language server as a child process and talks to it over its
// standard input and output.
type Stdio struct {
	hub
	cfg StdioConfig

	mu        sync.Mutex
	writeMu   sync.Mutex
	proc      *process
	connected bool
}

func NewStdio(cfg StdioConfig) *Stdio {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Stdio{cfg: cfg}
}

func (s *Stdio) Mode() Mode {
	return ModeStdio
}

// Connect spawns the server and waits out the settle delay. It fails if the
// process exits, writes a line containing "Error" to stderr, or ctx is done
// before the delay elapses.
func (s *Stdio) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected && s.proc != nil && s.proc.alive() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.cfg.Command == "" {
		return errors.New("stdio transport requires a command")
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.cfg.Command, err)
	}

	proc := &process{cmd: cmd, stdin: stdin, exited: make(chan struct{})}
	startupErr := make(chan string, 1)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer logging.RecoverPanic("stdio-stdout", nil)
		s.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		defer logging.RecoverPanic("stdio-stderr", nil)
		s.readStderr(stderr, startupErr)
	}()
	go func() {
		readers.Wait()
		proc.exitErr = cmd.Wait()
		s.mu.Lock()
		if s.proc == proc {
			s.connected = false
		}
		s.mu.Unlock()
		logging.Debug("Language server process exited", "command", s.cfg.Command, "error", proc.exitErr)
		s.emitClose()
		close(proc.exited)
	}()

	timer := time.NewTimer(s.cfg.SettleDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-proc.exited:
		return fmt.Errorf("%s exited during startup: %v", s.cfg.Command, exitDetail(proc.exitErr))
	case line := <-startupErr:
		kill(proc)
		return fmt.Errorf("%s reported an error during startup: %s", s.cfg.Command, line)
	case <-ctx.Done():
		kill(proc)
		return ctx.Err()
	}

	s.mu.Lock()
	s.proc = proc
	s.connected = true
	s.mu.Unlock()
	return nil
}

func exitDetail(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func (s *Stdio) readStdout(r io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.emitData(data)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.emitError(fmt.Errorf("read stdout: %w", err))
			}
			return
		}
	}
}

// readStderr logs server output and reports the first "Error" line so a
// pending Connect can fail fast.
func (s *Stdio) readStderr(r io.Reader, startupErr chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logging.Debug("Language server stderr", "command", s.cfg.Command, "line", line)
		if strings.Contains(line, "Error") {
			select {
			case startupErr <- line:
			default:
			}
		}
	}
}

func (s *Stdio) Send(data []byte) error {
	s.mu.Lock()
	proc := s.proc
	connected := s.connected
	s.mu.Unlock()
	if !connected || proc == nil || !proc.alive() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := proc.stdin.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (s *Stdio) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.proc != nil && s.proc.alive()
}

// Disconnect kills the server process and waits briefly for it to be reaped.
func (s *Stdio) Disconnect() error {
	s.mu.Lock()
	proc := s.proc
	s.connected = false
	s.mu.Unlock()
	if proc == nil {
		return nil
	}

	_ = proc.stdin.Close()
	kill(proc)

	select {
	case <-proc.exited:
	case <-time.After(2 * time.Second):
		logging.Warn("Language server did not exit after kill", "command", s.cfg.Command)
	}
	return nil
}

func kill(p *process) {
	if p.cmd.Process != nil && p.alive() {
		_ = p.cmd.Process.Kill()
	}
}
