// Package exec provides the host process primitives initd runs on: creating
// processes, reaping them, signaling them and probing whether they exist.
package exec

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID  int
	Code int // -1 if killed by a signal
}

// StartProcess creates a new command process on the system and returns its
// PID. The child is not waited on here; it must be collected with Reap.
func StartProcess(argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty argv")
	}

	p, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		// Services get their own session so that signals aimed at the
		// supervisor's terminal don't reach them.
		Sys: &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return 0, err
	}

	pid := p.Pid
	// Reap owns the child from here on.
	p.Release()

	return pid, nil
}

// Reap collects every child that has exited so far without blocking.
func Reap() []ExitStatus {
	var statuses []ExitStatus

	for {
		var ws unix.WaitStatus

		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return statuses
		}

		status := ExitStatus{PID: pid, Code: -1}
		if ws.Exited() {
			status.Code = ws.ExitStatus()
		}

		statuses = append(statuses, status)
	}
}

// Signal sends sig to the process.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.Errorf("refusing to signal pid %d", pid)
	}
	return unix.Kill(pid, sig)
}

// Alive returns true if pid refers to an existing process. A process owned by
// another user is still alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
