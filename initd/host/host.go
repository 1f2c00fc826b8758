// Package host implements initd.Kernel on top of the running system. It turns
// child exits, control requests, inittab changes and SIGHUP into a single
// stream of events for the loop.
package host

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/initd/initd"
	"git.unix.lgbt/diamondburned/initd/initd/initctl"
	"git.unix.lgbt/diamondburned/initd/initd/internal/exec"
	"vawter.tech/stopper"
)

// StopGracePeriod is how long Close waits for the helper routines.
var StopGracePeriod = time.Second

// Config configures the host kernel.
type Config struct {
	// Inittab is watched for changes if Watch is true.
	Inittab string
	Watch   bool
	// ControlDir is the directory of the control channel.
	ControlDir string
}

// Kernel is the production initd.Kernel.
type Kernel struct {
	j       initd.Journaler
	sctx    *stopper.Context
	channel *initctl.Channel // nil if unavailable

	mu      sync.Mutex
	pending []initd.HostEvent
	notify  chan struct{}
	waiters map[int]chan exec.ExitStatus
	// unclaimed holds exits that were queued as events but not yet returned
	// by Next, so that Wait can still find them.
	unclaimed map[int]exec.ExitStatus
	// claimed holds exits taken by Wait whose queued event must be skipped.
	claimed map[int]struct{}
}

var _ initd.Kernel = (*Kernel)(nil)

// New starts the host kernel. A control channel that cannot be opened is
// journaled once; the kernel keeps working without it.
func New(ctx context.Context, j initd.Journaler, cfg Config) *Kernel {
	k := &Kernel{
		j:         j,
		sctx:      stopper.WithContext(ctx),
		notify:    make(chan struct{}, 1),
		waiters:   make(map[int]chan exec.ExitStatus),
		unclaimed: make(map[int]exec.ExitStatus),
		claimed:   make(map[int]struct{}),
	}

	if err := exec.SetSubreaper(); err != nil && os.Getpid() != 1 {
		j.Write(&initd.EventWarning{
			Component: "host",
			Error:     err.Error(),
		})
	}

	// Helpers get a plain context canceled when the stopper begins stopping.
	hctx, cancel := context.WithCancel(ctx)
	k.sctx.Defer(cancel)

	k.sctx.Go(func(sctx *stopper.Context) error {
		k.reap(sctx)
		return nil
	})

	k.sctx.Go(func(sctx *stopper.Context) error {
		k.hangups(sctx)
		return nil
	})

	ch, err := initctl.Open(hctx, cfg.ControlDir, j)
	if err != nil {
		j.Write(&initd.EventChannelUnavailable{
			Path:  cfg.ControlDir,
			Error: err.Error(),
		})
	} else {
		k.channel = ch
		k.sctx.Defer(func() { ch.Close() })
		k.sctx.Go(func(sctx *stopper.Context) error {
			k.forwardSignals(sctx, ch)
			return nil
		})
	}

	if cfg.Watch {
		w := initd.TryWatch(hctx, cfg.Inittab, j)
		k.sctx.Go(func(sctx *stopper.Context) error {
			k.forwardReloads(sctx, w)
			return nil
		})
	}

	return k
}

// Close stops the helper routines.
func (k *Kernel) Close() error {
	k.sctx.Stop(StopGracePeriod)
	return k.sctx.Wait()
}

// push queues a host event for Next. It never blocks.
func (k *Kernel) push(ev initd.HostEvent) {
	k.mu.Lock()
	k.pending = append(k.pending, ev)
	k.mu.Unlock()

	select {
	case k.notify <- struct{}{}:
	default:
	}
}

// Next implements initd.Kernel.
func (k *Kernel) Next(ctx context.Context) (initd.HostEvent, error) {
	for {
		if ev, ok := k.pop(); ok {
			return ev, nil
		}

		select {
		case <-k.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (k *Kernel) pop() (initd.HostEvent, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for len(k.pending) > 0 {
		ev := k.pending[0]
		k.pending[0] = nil
		k.pending = k.pending[1:]

		exit, ok := ev.(initd.ProcessExit)
		if !ok {
			return ev, true
		}

		if _, taken := k.claimed[exit.PID]; taken {
			delete(k.claimed, exit.PID)
			continue
		}

		delete(k.unclaimed, exit.PID)
		return ev, true
	}

	return nil, false
}

// Spawn implements initd.Kernel.
func (k *Kernel) Spawn(cmd initd.Command) (int, error) {
	return exec.StartProcess(cmd.Argv)
}

// Wait implements initd.Kernel. Nothing else is delivered while it blocks.
func (k *Kernel) Wait(pid int) initd.ExitStatus {
	k.mu.Lock()

	if status, ok := k.unclaimed[pid]; ok {
		delete(k.unclaimed, pid)
		k.claimed[pid] = struct{}{}
		k.mu.Unlock()

		return initd.ExitStatus{PID: status.PID, Code: status.Code}
	}

	ch := make(chan exec.ExitStatus, 1)
	k.waiters[pid] = ch
	k.mu.Unlock()

	status := <-ch
	return initd.ExitStatus{PID: status.PID, Code: status.Code}
}

// Signal implements initd.Kernel.
func (k *Kernel) Signal(pid int, sig syscall.Signal) error {
	return exec.Signal(pid, sig)
}

// Alive implements initd.Kernel.
func (k *Kernel) Alive(pid int) bool {
	return exec.Alive(pid)
}

// Reply implements initd.Kernel.
func (k *Kernel) Reply(reply initd.Reply) error {
	if k.channel == nil {
		return initd.ErrChannelUnavailable
	}
	return k.channel.Reply(reply)
}

func (k *Kernel) reap(sctx *stopper.Context) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	// Children may have exited before the handler was installed.
	k.collect()

	for {
		select {
		case <-sctx.Stopping():
			return
		case <-sigCh:
			k.collect()
		}
	}
}

func (k *Kernel) collect() {
	for _, status := range exec.Reap() {
		k.mu.Lock()

		if ch, ok := k.waiters[status.PID]; ok {
			delete(k.waiters, status.PID)
			k.mu.Unlock()

			ch <- status
			continue
		}

		k.unclaimed[status.PID] = status
		k.mu.Unlock()

		k.push(initd.ProcessExit{
			ExitStatus: initd.ExitStatus{PID: status.PID, Code: status.Code},
		})
	}
}

func (k *Kernel) hangups(sctx *stopper.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sctx.Stopping():
			return
		case <-sigCh:
			k.push(initd.ReloadTable{})
		}
	}
}

func (k *Kernel) forwardSignals(sctx *stopper.Context, ch *initctl.Channel) {
	for {
		select {
		case <-sctx.Stopping():
			return
		case sig := <-ch.Signals:
			k.push(sig)
		}
	}
}

func (k *Kernel) forwardReloads(sctx *stopper.Context, w *initd.Watcher) {
	for {
		select {
		case <-sctx.Stopping():
			return
		case ev := <-w.Events:
			k.push(ev)
		}
	}
}
