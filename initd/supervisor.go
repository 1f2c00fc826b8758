package initd

import (
	"fmt"
	"sort"
	"syscall"

	"github.com/pkg/errors"
)

// DefaultShell is the command interpreter services are started with.
var DefaultShell = "/bin/sh"

// SpawnError is returned when a service process could not be created.
type SpawnError struct {
	ID  string
	Err error
}

func (err *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", err.ID, err.Err)
}

func (err *SpawnError) Unwrap() error { return err.Err }

// Errno returns the system error code of the failure, or 0 if there is none.
func (err *SpawnError) Errno() int {
	var errno syscall.Errno
	if errors.As(err.Err, &errno) {
		return int(errno)
	}
	return 0
}

// SignalError is returned when a service could not be signaled. The service is
// presumed to be still running.
type SignalError struct {
	ID     string
	PID    int
	Signal syscall.Signal
	Err    error
}

func (err *SignalError) Error() string {
	return fmt.Sprintf("failed to send %v to %q (pid %d): %v", err.Signal, err.ID, err.PID, err.Err)
}

func (err *SignalError) Unwrap() error { return err.Err }

// Supervisor is the service lifecycle manager. It starts and stops services
// and keeps track of their processes. A Supervisor is not safe for concurrent
// use; it is owned by a Loop.
type Supervisor struct {
	// Shell is the command interpreter given each service's command.
	Shell string
	// SkipActive makes runlevel switches skip services that are still running
	// from before the switch instead of starting them again.
	SkipActive bool

	kernel Kernel
	j      Journaler

	table    *Table
	runlevel Runlevel

	idToPID    map[string]int
	pidToEntry map[int]*ServiceEntry
	respawn    map[int]*ServiceEntry
}

// NewSupervisor creates a supervisor with an empty table and no runlevel.
func NewSupervisor(k Kernel, j Journaler) *Supervisor {
	return &Supervisor{
		Shell:      DefaultShell,
		kernel:     k,
		j:          j,
		table:      &Table{},
		runlevel:   NoRunlevel,
		idToPID:    make(map[string]int),
		pidToEntry: make(map[int]*ServiceEntry),
		respawn:    make(map[int]*ServiceEntry),
	}
}

// Table returns the current service table.
func (s *Supervisor) Table() *Table { return s.table }

// Runlevel returns the current runlevel, or NoRunlevel before the first switch.
func (s *Supervisor) Runlevel() Runlevel { return s.runlevel }

// PID returns the process last started for the service with the given ID.
func (s *Supervisor) PID(id string) (int, bool) {
	pid, ok := s.idToPID[id]
	return pid, ok
}

// ActiveIDs returns the IDs of the services that have a process, sorted. A
// service started again while still running counts once.
func (s *Supervisor) ActiveIDs() []string {
	seen := make(map[string]struct{}, len(s.idToPID))
	for id := range s.idToPID {
		seen[id] = struct{}{}
	}
	for _, entry := range s.pidToEntry {
		seen[entry.ID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pidsOf returns every known process of the service in ascending order.
func (s *Supervisor) pidsOf(id string) []int {
	var pids []int
	if pid, ok := s.idToPID[id]; ok {
		pids = append(pids, pid)
	}
	for pid, entry := range s.pidToEntry {
		if entry.ID == id && pid != s.idToPID[id] {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids
}

// Respawning returns true if pid will be restarted when it exits.
func (s *Supervisor) Respawning(pid int) bool {
	_, ok := s.respawn[pid]
	return ok
}

// Tracking returns the entry pid is running, if its exit is being watched.
func (s *Supervisor) Tracking(pid int) (*ServiceEntry, bool) {
	e, ok := s.pidToEntry[pid]
	return e, ok
}

func (s *Supervisor) command(entry *ServiceEntry) Command {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}

	return Command{
		ID:   entry.ID,
		Argv: []string{shell, "-c", entry.Command},
	}
}

// Start starts a process for the entry. A wait entry blocks until its process
// exits.
func (s *Supervisor) Start(entry *ServiceEntry) (int, error) {
	pid, err := s.kernel.Spawn(s.command(entry))
	if err != nil {
		spawnErr := &SpawnError{ID: entry.ID, Err: err}

		s.j.Write(&EventProcessSpawnError{
			ID:     entry.ID,
			Reason: err.Error(),
			Errno:  spawnErr.Errno(),
		})

		return 0, spawnErr
	}

	s.j.Write(&EventProcessSpawned{
		ID:     entry.ID,
		PID:    pid,
		Action: entry.Action,
	})

	switch entry.Action {
	case ActionOnce:
		s.pidToEntry[pid] = entry
	case ActionRespawn:
		s.pidToEntry[pid] = entry
		s.respawn[pid] = entry
	case ActionWait:
		status := s.kernel.Wait(pid)

		s.j.Write(&EventProcessExited{
			ID:       entry.ID,
			PID:      pid,
			ExitCode: status.Code,
		})

		// Not recorded in idToPID: the process is already reaped, so there
		// is nothing left to stop or report as active.
		return pid, nil
	}

	s.idToPID[entry.ID] = pid
	return pid, nil
}

// Stop sends the termination signal to every process of the service. It
// returns false with no error if the service has no process. Processes that
// could not be signaled stay tracked and the first such failure is returned.
func (s *Supervisor) Stop(entry *ServiceEntry) (bool, error) {
	return s.stopID(entry.ID)
}

func (s *Supervisor) stopID(id string) (bool, error) {
	var stopped bool
	var firstErr error

	for _, pid := range s.pidsOf(id) {
		if err := s.kernel.Signal(pid, syscall.SIGTERM); err != nil {
			s.j.Write(&EventServiceStopError{
				ID:    id,
				PID:   pid,
				Error: err.Error(),
			})

			if firstErr == nil {
				firstErr = &SignalError{ID: id, PID: pid, Signal: syscall.SIGTERM, Err: err}
			}
			continue
		}

		delete(s.pidToEntry, pid)
		delete(s.respawn, pid)
		if s.idToPID[id] == pid {
			delete(s.idToPID, id)
		}

		s.j.Write(&EventServiceStopped{ID: id, PID: pid})
		stopped = true
	}

	return stopped, firstErr
}

// Exited handles the exit of a child process. Respawn processes are started
// again exactly once; a failure to do so is journaled and not retried.
func (s *Supervisor) Exited(status ExitStatus) {
	entry, tracked := s.pidToEntry[status.PID]
	_, respawn := s.respawn[status.PID]

	delete(s.pidToEntry, status.PID)
	delete(s.respawn, status.PID)

	for id, pid := range s.idToPID {
		if pid == status.PID {
			delete(s.idToPID, id)
		}
	}

	if !tracked {
		return
	}

	s.j.Write(&EventProcessExited{
		ID:       entry.ID,
		PID:      status.PID,
		ExitCode: status.Code,
		Respawn:  respawn,
	})

	if respawn {
		// Start journals its own failure.
		s.Start(entry)
	}
}

// entryFor returns the entry the service with the given ID was started from.
// Untracked services are looked up in the table.
func (s *Supervisor) entryFor(id string, table *Table) (*ServiceEntry, bool) {
	if entry, ok := s.pidToEntry[s.idToPID[id]]; ok {
		return entry, true
	}
	for _, pid := range s.pidsOf(id) {
		if entry, ok := s.pidToEntry[pid]; ok {
			return entry, true
		}
	}
	return table.Lookup(id)
}

// running returns true if the service was started from an entry equal to the
// given one and its process has not exited.
func (s *Supervisor) running(entry *ServiceEntry) bool {
	pid, ok := s.idToPID[entry.ID]
	if !ok {
		return false
	}
	tracked, ok := s.pidToEntry[pid]
	return ok && tracked.Same(entry)
}
