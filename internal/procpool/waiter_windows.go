//go:build windows

package procpool

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// maxWaitObjects is the most handles WaitForMultipleObjects accepts.
const maxWaitObjects = 64

type osHandle = windows.Handle

func openHandle(p *os.Process) (osHandle, error) {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(p.Pid))
	if err != nil {
		return 0, os.NewSyscallError("OpenProcess", err)
	}
	return h, nil
}

func closeHandle(h osHandle) {
	if h != 0 {
		_ = windows.CloseHandle(h)
	}
}

// handleWaiter waits on explicit process handles. Only the first
// maxWaitObjects live processes are observed by one waitAny call; the pool
// simply calls again, so a larger live set is still drained.
type handleWaiter struct {
	handles []windows.Handle
}

func newWaiter() waiter {
	return &handleWaiter{handles: make([]windows.Handle, 0, maxWaitObjects)}
}

func (w *handleWaiter) tryWait(p *Process) (ExitStatus, bool, error) {
	ev, err := windows.WaitForSingleObject(p.handle, 0)
	if err != nil {
		return ExitStatus{}, false, os.NewSyscallError("WaitForSingleObject", err)
	}
	if ev == uint32(windows.WAIT_TIMEOUT) {
		return ExitStatus{}, false, nil
	}
	status, err := exitCode(p.handle)
	return status, err == nil, err
}

func (w *handleWaiter) wait(p *Process) (ExitStatus, error) {
	if _, err := windows.WaitForSingleObject(p.handle, windows.INFINITE); err != nil {
		return ExitStatus{}, os.NewSyscallError("WaitForSingleObject", err)
	}
	return exitCode(p.handle)
}

func (w *handleWaiter) waitAny(live *liveSet) (int, ExitStatus, error) {
	n := min(live.len(), maxWaitObjects)
	w.handles = w.handles[:0]
	for i := 0; i < n; i++ {
		w.handles = append(w.handles, live.at(i).handle)
	}

	ev, err := windows.WaitForMultipleObjects(w.handles, false, windows.INFINITE)
	if err != nil {
		return 0, ExitStatus{}, os.NewSyscallError("WaitForMultipleObjects", err)
	}
	i := int(ev - windows.WAIT_OBJECT_0)
	if i < 0 || i >= n {
		return 0, ExitStatus{}, fmt.Errorf("WaitForMultipleObjects: unexpected result %#x", ev)
	}
	status, err := exitCode(live.at(i).handle)
	if err != nil {
		return 0, ExitStatus{}, err
	}
	return i, status, nil
}

func exitCode(h windows.Handle) (ExitStatus, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return ExitStatus{}, os.NewSyscallError("GetExitCodeProcess", err)
	}
	return ExitStatus{Code: int(code)}, nil
}
