package jobs

import "golang.org/x/sys/unix"

// Waiter reports state changes of the members of a process group.
type Waiter interface {
	// Wait waits for a member of the group led by pgid. A zero pid with a
	// nil error means no member changed state (WNOHANG).
	Wait(pgid int, options int) (pid int, ws unix.WaitStatus, err error)
}

// WaitFunc adapts a function to the Waiter interface.
type WaitFunc func(pgid int, options int) (int, unix.WaitStatus, error)

func (f WaitFunc) Wait(pgid int, options int) (int, unix.WaitStatus, error) {
	return f(pgid, options)
}

var _ Waiter = (WaitFunc)(nil)

// Wait4 waits on real child processes.
var Wait4 Waiter = WaitFunc(func(pgid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-pgid, &ws, options, nil)
	return pid, ws, err
})

// Nop never observes a change. It is used where the process groups in a
// table are not children of the current process.
var Nop Waiter = WaitFunc(func(int, int) (int, unix.WaitStatus, error) {
	return 0, 0, nil
})

// ExitCode converts a wait status to a shell exit code.
func ExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	case ws.Stopped():
		return 128 + int(ws.StopSignal())
	}
	return 0
}
