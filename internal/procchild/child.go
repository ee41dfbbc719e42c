// Package procchild wraps a spawned sidecar process with line-oriented
// output streaming, exit observation and whole-group termination.
package procchild

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// EventKind identifies what a child event carries.
type EventKind int

const (
	// EventStdout carries one line of child stdout.
	EventStdout EventKind = iota
	// EventStderr carries one line of child stderr.
	EventStderr
	// EventExited reports the child's exit code; it is always the final
	// event before the stream closes.
	EventExited
)

// Event is one observation from a running child.
type Event struct {
	Kind EventKind
	Line string
	Code int
}

// Options configures Start.
type Options struct {
	Dir    string
	Env    []string // nil inherits the parent environment
	Logger *slog.Logger
}

// Child is a spawned process plus its event stream. Events() yields stdout
// and stderr lines followed by exactly one EventExited, then closes.
type Child struct {
	log *slog.Logger

	cmd    *exec.Cmd
	events chan Event

	killOnce sync.Once
}

// Start launches bin with args in its own process group and begins streaming
// its output. The context bounds spawn setup only; a started child is not
// killed by context cancellation.
func Start(ctx context.Context, bin string, args []string, opts Options) (*Child, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, errors.New("missing child binary")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(bin, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	setCmdProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Child{
		log:    log.With("pid", cmd.Process.Pid, "bin", bin),
		cmd:    cmd,
		events: make(chan Event, 64),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go c.readLines(&readers, stdout, EventStdout)
	go c.readLines(&readers, stderr, EventStderr)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		} else if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		c.log.Debug("child exited", "code", code)
		c.events <- Event{Kind: EventExited, Code: code}
		close(c.events)
	}()

	return c, nil
}

func (c *Child) readLines(wg *sync.WaitGroup, r io.Reader, kind EventKind) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		c.events <- Event{Kind: kind, Line: sc.Text()}
	}
}

// Events returns the child's event stream.
func (c *Child) Events() <-chan Event {
	if c == nil {
		return nil
	}
	return c.events
}

// PID returns the child's process id, 0 when unknown.
func (c *Child) PID() int {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Kill force-terminates the whole process group. The exit event is still
// delivered through Events. Safe to call multiple times.
func (c *Child) Kill() {
	if c == nil {
		return
	}
	c.killOnce.Do(func() {
		if err := killCmdProcessGroup(c.cmd); err != nil {
			c.log.Warn("kill child", "err", err)
		}
	})
}

// Alive reports whether the child's process still exists.
func (c *Child) Alive() bool {
	return PidAlive(c.PID())
}

// PidAlive reports whether any process with the given pid exists.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
