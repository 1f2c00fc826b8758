package initd

import (
	"context"
	"syscall"
)

// Command describes a process to create. Argv[0] is the program path.
type Command struct {
	ID   string
	Argv []string
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID  int
	Code int // -1 if killed by a signal
}

// Kernel is the set of host primitives the supervisor runs on. The production
// implementation lives in package host; tests use a scripted double.
type Kernel interface {
	// Spawn creates a new process running cmd and returns its PID. An error is
	// only returned if the process could not be created at all.
	Spawn(cmd Command) (int, error)
	// Wait blocks until the process exits and returns its status. The exit of
	// a waited process is never delivered by Next. Exits of other processes
	// that happen while waiting are held until the next call to Next.
	Wait(pid int) ExitStatus
	// Signal sends sig to the process.
	Signal(pid int, sig syscall.Signal) error
	// Alive returns true if pid refers to an existing process.
	Alive(pid int) bool
	// Next blocks until the next host event arrives or ctx is done.
	Next(ctx context.Context) (HostEvent, error)
	// Reply sends a reply to the requester of a control request.
	Reply(Reply) error
}

// HostEvent is an asynchronous event delivered by Kernel.Next. It is one of
// ProcessExit, ControlSignal or ReloadTable.
type HostEvent interface {
	hostEvent()
}

// ProcessExit is delivered when a child process exits.
type ProcessExit struct {
	ExitStatus
}

// ControlSignal is a control request as it arrived on the control channel,
// before validation.
type ControlSignal struct {
	RequestID string
	// PID is the requester's process ID as sent by the requester.
	PID  string
	Kind string
	// Arg is nil, a number or a string. Numbers decoded from JSON are float64.
	Arg interface{}
}

// ReloadTable is delivered when the inittab should be read again.
type ReloadTable struct{}

func (ProcessExit) hostEvent()   {}
func (ControlSignal) hostEvent() {}
func (ReloadTable) hostEvent()   {}
