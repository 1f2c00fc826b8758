package initd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// ErrUnknownService is returned for start and stop requests naming a service
// that is not in the table.
var ErrUnknownService = errors.New("unknown service")

// Recorder is told about every runlevel switch, e.g. to keep a state file for
// other programs to read.
type Recorder interface {
	RecordRunlevel(prev, cur Runlevel) error
}

// Options configures a Loop.
type Options struct {
	// Inittab is the path of the service table.
	Inittab string
	// Shell is the command interpreter; DefaultShell if empty.
	Shell string
	// SkipActive keeps runlevel switches from starting services that are
	// already running.
	SkipActive bool
	// Recorder, if not nil, is told about runlevel switches.
	Recorder Recorder
}

// Loop is the supervisor's event loop. It owns the Supervisor and the control
// request queue; nothing else may touch them while the loop runs.
type Loop struct {
	sup    *Supervisor
	queue  *RequestQueue
	kernel Kernel
	j      Journaler
	opts   Options
}

// NewLoop creates a new event loop. Boot must be called before Run.
func NewLoop(k Kernel, j Journaler, opts Options) *Loop {
	sup := NewSupervisor(k, j)
	sup.SkipActive = opts.SkipActive
	if opts.Shell != "" {
		sup.Shell = opts.Shell
	}

	return &Loop{
		sup:    sup,
		queue:  NewRequestQueue(),
		kernel: k,
		j:      j,
		opts:   opts,
	}
}

// Supervisor returns the loop's supervisor. It must only be used from the
// goroutine running the loop.
func (l *Loop) Supervisor() *Supervisor { return l.sup }

// Queued returns the number of control requests waiting to be dispatched.
func (l *Loop) Queued() int { return l.queue.Len() }

// Boot loads the service table and forces single-user mode.
func (l *Loop) Boot() {
	l.Load()
	l.switchTo(SingleUser)
}

// Load reads the inittab. The current table is kept if the file cannot be
// read. It returns true if the table was replaced.
func (l *Loop) Load() bool {
	table, ok := l.readTable(false)
	if ok {
		l.sup.Replace(table)
	}
	return ok
}

// Reload reads the inittab and converges the running services to it.
func (l *Loop) Reload() bool {
	table, ok := l.readTable(true)
	if ok {
		l.sup.Replace(table)
	}
	return ok
}

func (l *Loop) readTable(reload bool) (*Table, bool) {
	table, lineErrs, err := LoadTable(l.opts.Inittab)

	for _, lineErr := range lineErrs {
		l.j.Write(&EventConfigLineError{
			Path:  lineErr.Path,
			Line:  lineErr.Line,
			Text:  lineErr.Text,
			Error: lineErr.Err.Error(),
		})
	}

	if err != nil {
		l.j.Write(&EventConfigError{
			Path:  l.opts.Inittab,
			Error: err.Error(),
		})
		return nil, false
	}

	l.j.Write(&EventTableLoaded{
		Path:     l.opts.Inittab,
		Services: table.Len(),
		Skipped:  len(lineErrs),
		Reload:   reload,
	})

	return table, true
}

func (l *Loop) switchTo(target Runlevel) {
	prev := l.sup.Runlevel()
	l.sup.Switch(target)

	if l.opts.Recorder != nil {
		if err := l.opts.Recorder.RecordRunlevel(prev, target); err != nil {
			l.j.Write(&EventWarning{
				Component: "recorder",
				Error:     err.Error(),
			})
		}
	}
}

// Run runs the loop until ctx is canceled. Errors other than the context's are
// journaled and the loop carries on.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			l.j.Write(&EventWarning{
				Component: "loop",
				Error:     err.Error(),
			})
		}
	}
}

// Step runs a single pass of the loop: it waits for one host event, handles
// it, then dispatches at most one queued control request.
func (l *Loop) Step(ctx context.Context) error {
	ev, err := l.kernel.Next(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to wait for event")
	}

	switch ev := ev.(type) {
	case ProcessExit:
		l.sup.Exited(ev.ExitStatus)
	case ControlSignal:
		l.accept(ev)
	case ReloadTable:
		l.Reload()
	}

	l.dispatchOne()
	return nil
}

// accept validates a control signal and queues it.
func (l *Loop) accept(sig ControlSignal) {
	if sig.RequestID == "" {
		sig.RequestID = xid.New().String()
	}

	req, err := Validate(sig, l.kernel.Alive)
	if err != nil {
		l.j.Write(&EventRequestRejected{
			RequestID: sig.RequestID,
			PID:       sig.PID,
			Kind:      sig.Kind,
			Reason:    err.Error(),
		})
		return
	}

	if err := l.queue.Push(req); err != nil {
		l.j.Write(&EventRequestRejected{
			RequestID: req.ID,
			PID:       sig.PID,
			Kind:      sig.Kind,
			Reason:    err.Error(),
		})
		return
	}

	l.j.Write(&EventRequestQueued{
		RequestID: req.ID,
		PID:       req.PID,
		Kind:      req.Kind,
	})
}

// dispatchOne handles the request at the head of the queue, if any.
func (l *Loop) dispatchOne() {
	req, ok := l.queue.Pop()
	if !ok {
		return
	}

	reply := l.dispatch(req)

	l.j.Write(&EventRequestDispatched{
		RequestID: req.ID,
		PID:       req.PID,
		Kind:      req.Kind,
		OK:        reply.OK,
		Error:     reply.Error,
	})

	if err := l.kernel.Reply(reply); err != nil {
		if errors.Is(err, ErrChannelUnavailable) {
			return
		}

		l.j.Write(&EventReplyError{
			RequestID: req.ID,
			PID:       req.PID,
			Error:     err.Error(),
		})
	}
}

func (l *Loop) dispatch(req ControlRequest) Reply {
	reply := Reply{
		RequestID: req.ID,
		PID:       req.PID,
		Kind:      req.Kind,
	}

	switch req.Kind {
	case KindRunlevel:
		if req.Runlevel != NoRunlevel && req.Runlevel != l.sup.Runlevel() {
			l.switchTo(req.Runlevel)
			reply.Changed = true
		}
		reply.OK = true

	case KindStart:
		entry, ok := l.sup.Table().Lookup(req.Service)
		if !ok {
			reply.Error = errors.Wrap(ErrUnknownService, req.Service).Error()
			break
		}

		pid, err := l.sup.Start(entry)
		if err != nil {
			reply.Error = err.Error()
			break
		}

		reply.OK = true
		reply.ServicePID = pid

	case KindStop:
		entry, ok := l.sup.Table().Lookup(req.Service)
		if !ok {
			reply.Error = errors.Wrap(ErrUnknownService, req.Service).Error()
			break
		}

		stopped, err := l.sup.Stop(entry)
		if err != nil {
			reply.Error = err.Error()
			break
		}

		reply.OK = true
		reply.Stopped = stopped

	case KindStatus:
		reply.OK = true
		reply.Services = l.sup.ActiveIDs()
	}

	reply.Runlevel = l.sup.Runlevel()
	return reply
}

// ErrChannelUnavailable is returned by Kernel.Reply when the control channel
// could not be opened. The loop drops such replies silently.
var ErrChannelUnavailable = errors.New("control channel unavailable")
