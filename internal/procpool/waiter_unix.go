//go:build unix

package procpool

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// osHandle carries no state on unix; processes are addressed by pid.
type osHandle struct{}

func openHandle(*os.Process) (osHandle, error) {
	return osHandle{}, nil
}

func closeHandle(osHandle) {}

// processGroup is this program's process group, read once per run.
// Children inherit it, so waiting on the group covers all of them.
var processGroup = sync.OnceValue(unix.Getpgrp)

// groupWaiter waits on the whole process group with a single wait4 call.
type groupWaiter struct{}

func newWaiter() waiter {
	return groupWaiter{}
}

func (groupWaiter) tryWait(p *Process) (ExitStatus, bool, error) {
	var ws unix.WaitStatus
	pid, err := wait4(p.Pid, &ws, unix.WNOHANG)
	if err != nil {
		return ExitStatus{}, false, err
	}
	if pid == 0 {
		return ExitStatus{}, false, nil
	}
	return statusOf(ws), true, nil
}

func (groupWaiter) wait(p *Process) (ExitStatus, error) {
	var ws unix.WaitStatus
	if _, err := wait4(p.Pid, &ws, 0); err != nil {
		return ExitStatus{}, err
	}
	return statusOf(ws), nil
}

func (groupWaiter) waitAny(live *liveSet) (int, ExitStatus, error) {
	var ws unix.WaitStatus
	pid, err := wait4(-processGroup(), &ws, 0)
	if err != nil {
		return 0, ExitStatus{}, err
	}
	i, ok := live.lookup(pid)
	if !ok {
		return 0, ExitStatus{}, fmt.Errorf("%w: pid %d (%s)", ErrUntrackedProcess, pid, statusOf(ws))
	}
	return i, statusOf(ws), nil
}

func wait4(pid int, ws *unix.WaitStatus, options int) (int, error) {
	for {
		wpid, err := unix.Wait4(pid, ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("wait4", err)
		}
		return wpid, nil
	}
}

func statusOf(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}
