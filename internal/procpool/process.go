package procpool

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/TFMV/codeclean/internal/dispatch"
)

// maxCapturedStderr bounds how much of a child's error stream is kept.
// The stream is still drained past this point.
const maxCapturedStderr = 64 * 1024

// DefaultStderrGrace is how long a reaped child's error stream may stay open,
// held by a surviving grandchild, before the capture is cut short.
const DefaultStderrGrace = 2 * time.Second

// ExitStatus is the result of a reaped process.
type ExitStatus struct {
	Code   int    // Exit code; -1 when terminated by a signal
	Signal string // Terminating signal, if any
}

// Success reports whether the process exited with code zero.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal: " + s.Signal
	}
	return fmt.Sprintf("exit status: %d", s.Code)
}

// ExitError reports a process that exited unsuccessfully.
type ExitError struct {
	Status ExitStatus
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s, stderr: %s", e.Status, strings.TrimSpace(e.Stderr))
}

// SpawnError reports a command that could not be started.
type SpawnError struct {
	Command dispatch.Command
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Process is one spawned external command. It is owned by the pool's live
// set until it is reaped.
type Process struct {
	Pid     int
	Dir     string
	Command dispatch.Command

	cmd    *exec.Cmd
	handle osHandle
	stderr *capture
}

// start spawns c with its output discarded and its error stream captured.
func start(c dispatch.Command) (*Process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: c, Err: err}
	}

	cmd := exec.Command(c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, &SpawnError{Command: c, Err: err}
	}
	// The child holds its own copy of the write end.
	w.Close()

	proc := &Process{
		Pid:     cmd.Process.Pid,
		Dir:     c.Dir,
		Command: c,
		cmd:     cmd,
		stderr:  newCapture(r),
	}

	handle, err := openHandle(cmd.Process)
	if err != nil {
		// Without a handle the process cannot be waited on through the
		// waiter, so it is not admitted at all.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		proc.stderr.finish(0)
		return nil, &SpawnError{Command: c, Err: fmt.Errorf("track pid %d: %w", proc.Pid, err)}
	}
	proc.handle = handle
	return proc, nil
}

// release frees the OS resources of a process that has been reaped.
func (p *Process) release() {
	closeHandle(p.handle)
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Release()
	}
}

// capture drains a child's error stream into a bounded buffer.
type capture struct {
	r    *os.File
	buf  bytes.Buffer
	done chan struct{}
}

func newCapture(r *os.File) *capture {
	c := &capture{r: r, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_, _ = c.readAll()
	}()
	return c
}

func (c *capture) readAll() (int64, error) {
	var n int64
	chunk := make([]byte, 4096)
	for {
		m, err := c.r.Read(chunk)
		if m > 0 {
			n += int64(m)
			if room := maxCapturedStderr - c.buf.Len(); room > 0 {
				c.buf.Write(chunk[:min(m, room)])
			}
		}
		if err != nil {
			return n, err
		}
	}
}

// finish waits up to grace for the stream to reach EOF and returns the
// captured text. It must only be called once the process has exited.
func (c *capture) finish(grace time.Duration) string {
	if c == nil {
		return ""
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
	}
	c.r.Close()
	<-c.done
	return c.buf.String()
}
