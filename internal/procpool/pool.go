// Package procpool runs external commands with a hard ceiling on how many
// are alive at once.
//
// The pool is driven by a single goroutine: Submit spawns a child and only
// blocks when the ceiling is reached, reaping already-exited children first
// and otherwise waiting for whichever child exits next. Drain waits for
// everything that is left. Children are never canceled or retried.
package procpool

import (
	"errors"
	"fmt"
	"time"

	"github.com/TFMV/codeclean/internal/dispatch"
	"github.com/TFMV/codeclean/internal/suppress"
	"go.uber.org/zap"
)

// DefaultCapacity is the default ceiling on concurrently running children.
// Each child holds a process handle and a pipe, so the value stays well
// below common open-file limits.
const DefaultCapacity = 512 + 256

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("procpool: pool is closed")

// Reporter receives failures observed by the pool.
type Reporter interface {
	// PathError reports a failure tied to the directory a child ran in.
	PathError(path string, err error)
	// OSError reports a wait failure not tied to any single child.
	OSError(err error)
}

// Options configures a Pool.
type Options struct {
	Capacity    int              // Ceiling on live children; 0 means DefaultCapacity
	Reporter    Reporter         // Required
	Suppress    *suppress.Policy // Benign failures to hide; nil hides nothing
	Logger      *zap.Logger
	StderrGrace time.Duration // 0 means DefaultStderrGrace
}

// Stats counts what happened to submitted commands.
type Stats struct {
	Spawned    int64 // Children started
	Succeeded  int64 // Exited with status zero
	Failed     int64 // Exited unsuccessfully and reported
	Suppressed int64 // Exited unsuccessfully with a benign diagnostic
	WaitFailed int64 // Could not be waited on
}

// Pool owns the live set of children. It is not safe for concurrent use.
type Pool struct {
	capacity int
	live     *liveSet
	waiter   waiter
	reporter Reporter
	policy   *suppress.Policy
	logger   *zap.Logger
	grace    time.Duration

	stats  Stats
	fault  error
	closed bool
}

// New creates a Pool.
func New(opts Options) (*Pool, error) {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("procpool: capacity must be greater than zero, got %d", opts.Capacity)
	}
	if opts.Reporter == nil {
		return nil, errors.New("procpool: a reporter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StderrGrace <= 0 {
		opts.StderrGrace = DefaultStderrGrace
	}

	return &Pool{
		capacity: opts.Capacity,
		live:     newLiveSet(opts.Capacity),
		waiter:   newWaiter(),
		reporter: opts.Reporter,
		policy:   opts.Suppress,
		logger:   opts.Logger,
		grace:    opts.StderrGrace,
	}, nil
}

// Capacity returns the ceiling on live children.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Len returns the number of live children.
func (p *Pool) Len() int {
	return p.live.len()
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// Submit starts c. When the pool is full it first reaps every child that
// has already exited, and if none has, waits for the next one to exit.
//
// A *SpawnError means only this command was abandoned. An error wrapping
// ErrUntrackedProcess is fatal.
func (p *Pool) Submit(c dispatch.Command) error {
	if p.closed {
		return ErrClosed
	}
	if p.fault != nil {
		return p.fault
	}

	if p.live.len() >= p.capacity {
		p.reapExited()
		if p.live.len() >= p.capacity {
			if err := p.reapNext(); err != nil {
				return err
			}
		}
	}

	proc, err := start(c)
	if err != nil {
		return err
	}
	// Registered before any later wait can observe its exit.
	p.live.add(proc)
	p.stats.Spawned++

	p.logger.Debug("spawned",
		zap.Int("pid", proc.Pid),
		zap.String("program", c.Program),
		zap.Strings("args", c.Args),
		zap.String("dir", c.Dir),
		zap.Int("live", p.live.len()),
	)
	return nil
}

// Drain waits for every live child.
func (p *Pool) Drain() error {
	for p.live.len() > 0 {
		if p.fault != nil {
			return p.fault
		}
		if err := p.reapNext(); err != nil {
			return err
		}
	}
	return p.fault
}

// Close drains the pool and rejects further submissions. It is safe to call
// more than once and is meant to be deferred right after New.
func (p *Pool) Close() error {
	if p.closed {
		return p.fault
	}
	p.closed = true

	err := p.Drain()
	if err != nil {
		// The bookkeeping is broken; release what is still held without waiting.
		p.live.retain(func(proc *Process) bool {
			proc.stderr.finish(0)
			proc.release()
			return false
		})
	}
	return err
}

// reapExited polls every live child once without blocking.
func (p *Pool) reapExited() {
	p.live.retain(func(proc *Process) bool {
		status, exited, err := p.waiter.tryWait(proc)
		if err != nil {
			p.waitFailed(proc, err)
			return false
		}
		if !exited {
			return true
		}
		p.finish(proc, status)
		return false
	})
}

// reapNext blocks until one child exits and removes it from the live set.
func (p *Pool) reapNext() error {
	i, status, err := p.waiter.waitAny(p.live)
	if err != nil {
		if errors.Is(err, ErrUntrackedProcess) {
			p.fault = err
			p.logger.Error("live set is inconsistent", zap.Error(err), zap.Int("live", p.live.len()))
			return err
		}

		// The live set's true state is unknown. Fall back to a blocking
		// wait on the child at the front of the live set so the pool still
		// makes progress.
		p.reporter.OSError(err)
		p.logger.Warn("wait-any failed, waiting on a single child", zap.Error(err), zap.Int("pid", p.live.at(0).Pid))
		i = 0
		status, err = p.waiter.wait(p.live.at(0))
		if err != nil {
			p.waitFailed(p.live.remove(0), err)
			return nil
		}
	}

	p.finish(p.live.remove(i), status)
	return nil
}

// finish reports a reaped child according to its status and releases it.
func (p *Pool) finish(proc *Process, status ExitStatus) {
	text := proc.stderr.finish(p.grace)
	proc.release()

	fields := []zap.Field{
		zap.Int("pid", proc.Pid),
		zap.String("dir", proc.Dir),
		zap.Stringer("status", status),
	}

	switch {
	case status.Success():
		p.stats.Succeeded++
		p.logger.Debug("reaped", fields...)
	case p.policy.Suppressed(text):
		p.stats.Suppressed++
		p.logger.Debug("suppressed failure", append(fields, zap.String("stderr", text))...)
	default:
		p.stats.Failed++
		p.logger.Debug("failed", fields...)
		p.reporter.PathError(proc.Dir, &ExitError{Status: status, Stderr: text})
	}
}

func (p *Pool) waitFailed(proc *Process, err error) {
	proc.stderr.finish(0)
	proc.release()
	p.stats.WaitFailed++
	p.reporter.PathError(proc.Dir, err)
}
