package procpool

import "errors"

// ErrUntrackedProcess is returned when the OS reports the exit of a process
// that is not in the live set. The pool's bookkeeping can no longer be
// trusted after this, so the fault is fatal.
var ErrUntrackedProcess = errors.New("procpool: reaped a process missing from the live set")

// waiter is the platform-specific "wait for a child to exit" capability.
// Implementations are selected at build time.
type waiter interface {
	// tryWait polls p without blocking. exited is false while p runs.
	tryWait(p *Process) (status ExitStatus, exited bool, err error)

	// wait blocks until p exits.
	wait(p *Process) (ExitStatus, error)

	// waitAny blocks until some member of live exits and returns its position.
	// Implementations may observe only a subset of live per call.
	waitAny(live *liveSet) (int, ExitStatus, error)
}
