package initd

import (
	"context"
	"syscall"

	"github.com/pkg/errors"
)

var errNoEvents = errors.New("no scripted events left")

type signalCall struct {
	PID    int
	Signal syscall.Signal
}

// fakeKernel is a scripted Kernel. PIDs are handed out from 100 upwards,
// events are delivered in the order they were pushed, and every call is
// recorded.
type fakeKernel struct {
	nextPID int

	spawned   []Command
	spawnErrs map[string]error // by service ID

	waits    []int
	waitCode int

	signals    []signalCall
	signalErrs map[int]error

	alive map[int]bool

	events []HostEvent
	// drained is called when Next runs out of events.
	drained func()

	replies  []Reply
	replyErr error
}

var _ Kernel = (*fakeKernel)(nil)

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		nextPID:    100,
		spawnErrs:  make(map[string]error),
		signalErrs: make(map[int]error),
		alive:      make(map[int]bool),
	}
}

func (k *fakeKernel) Spawn(cmd Command) (int, error) {
	if err := k.spawnErrs[cmd.ID]; err != nil {
		return 0, err
	}

	k.nextPID++
	k.spawned = append(k.spawned, cmd)
	return k.nextPID, nil
}

func (k *fakeKernel) Wait(pid int) ExitStatus {
	k.waits = append(k.waits, pid)
	return ExitStatus{PID: pid, Code: k.waitCode}
}

func (k *fakeKernel) Signal(pid int, sig syscall.Signal) error {
	if err := k.signalErrs[pid]; err != nil {
		return err
	}
	k.signals = append(k.signals, signalCall{pid, sig})
	return nil
}

func (k *fakeKernel) Alive(pid int) bool {
	return k.alive[pid]
}

func (k *fakeKernel) Next(ctx context.Context) (HostEvent, error) {
	if len(k.events) == 0 {
		if k.drained != nil {
			k.drained()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errNoEvents
	}

	ev := k.events[0]
	k.events = k.events[1:]
	return ev, nil
}

func (k *fakeKernel) Reply(reply Reply) error {
	if k.replyErr != nil {
		return k.replyErr
	}
	k.replies = append(k.replies, reply)
	return nil
}

func (k *fakeKernel) push(evs ...HostEvent) {
	k.events = append(k.events, evs...)
}

// spawnedIDs returns the IDs of every spawned command, in order.
func (k *fakeKernel) spawnedIDs() []string {
	ids := make([]string, len(k.spawned))
	for i, cmd := range k.spawned {
		ids[i] = cmd.ID
	}
	return ids
}

// signaledPIDs returns the PIDs of every delivered signal, in order.
func (k *fakeKernel) signaledPIDs() []int {
	pids := make([]int, len(k.signals))
	for i, call := range k.signals {
		pids[i] = call.PID
	}
	return pids
}

// reset forgets recorded calls but keeps the configuration.
func (k *fakeKernel) reset() {
	k.spawned = nil
	k.waits = nil
	k.signals = nil
	k.replies = nil
}

func exitOf(pid, code int) ProcessExit {
	return ProcessExit{ExitStatus{PID: pid, Code: code}}
}
