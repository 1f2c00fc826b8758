package initd

// eventType describes an event type.
type eventType = string

const (
	eventWarning            eventType = "warning"
	eventAcquired           eventType = "acquired lock"
	eventTableLoaded        eventType = "table loaded"
	eventConfigError        eventType = "config error"
	eventConfigLineError    eventType = "config line error"
	eventProcessSpawned     eventType = "process spawned"
	eventProcessSpawnError  eventType = "process spawn error"
	eventProcessExited      eventType = "process exited"
	eventServiceStopped     eventType = "service stopped"
	eventServiceStopError   eventType = "service stop error"
	eventRunlevelSwitched   eventType = "runlevel switched"
	eventRequestQueued      eventType = "request queued"
	eventRequestRejected    eventType = "request rejected"
	eventRequestDispatched  eventType = "request dispatched"
	eventReplyError         eventType = "reply error"
	eventChannelUnavailable eventType = "channel unavailable"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventAcquired:
		return &EventAcquired{}
	case eventTableLoaded:
		return &EventTableLoaded{}
	case eventConfigError:
		return &EventConfigError{}
	case eventConfigLineError:
		return &EventConfigLineError{}
	case eventProcessSpawned:
		return &EventProcessSpawned{}
	case eventProcessSpawnError:
		return &EventProcessSpawnError{}
	case eventProcessExited:
		return &EventProcessExited{}
	case eventServiceStopped:
		return &EventServiceStopped{}
	case eventServiceStopError:
		return &EventServiceStopError{}
	case eventRunlevelSwitched:
		return &EventRunlevelSwitched{}
	case eventRequestQueued:
		return &EventRequestQueued{}
	case eventRequestRejected:
		return &EventRequestRejected{}
	case eventRequestDispatched:
		return &EventRequestDispatched{}
	case eventReplyError:
		return &EventReplyError{}
	case eventChannelUnavailable:
		return &EventChannelUnavailable{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventAcquired is emitted when the flock (i.e. write lock on the journal) is
// acquired, which is on startup.
type EventAcquired struct {
	PID int `json:"pid"`
}

func (ev *EventAcquired) Type() string { return eventAcquired }
func (ev *EventAcquired) event()       {}

// EventTableLoaded is emitted when the service table has been replaced.
type EventTableLoaded struct {
	Path     string `json:"path"`
	Services int    `json:"services"`
	Skipped  int    `json:"skipped"`
	Reload   bool   `json:"reload,omitempty"`
}

func (ev *EventTableLoaded) Type() string { return eventTableLoaded }
func (ev *EventTableLoaded) event()       {}

// EventConfigError is emitted when the inittab could not be read. The previous
// table stays in effect.
type EventConfigError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func (ev *EventConfigError) Type() string { return eventConfigError }
func (ev *EventConfigError) event()       {}

// EventConfigLineError is emitted for every inittab line that was skipped.
type EventConfigLineError struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (ev *EventConfigLineError) Type() string { return eventConfigLineError }
func (ev *EventConfigLineError) event()       {}

// EventProcessSpawned is emitted when a service process has been started.
type EventProcessSpawned struct {
	ID     string `json:"id"`
	PID    int    `json:"pid"`
	Action Action `json:"action"`
}

func (ev *EventProcessSpawned) Type() string { return eventProcessSpawned }
func (ev *EventProcessSpawned) event()       {}

// EventProcessSpawnError is emitted when a service process could not be
// created.
type EventProcessSpawnError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Errno  int    `json:"errno,omitempty"`
}

func (ev *EventProcessSpawnError) Type() string { return eventProcessSpawnError }
func (ev *EventProcessSpawnError) event()       {}

// EventProcessExited is emitted when a tracked service process exits.
type EventProcessExited struct {
	ID       string `json:"id"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"` // -1 if killed by a signal
	Respawn  bool   `json:"respawn,omitempty"`
}

func (ev *EventProcessExited) Type() string { return eventProcessExited }
func (ev *EventProcessExited) event()       {}

// EventServiceStopped is emitted once a service has been sent the termination
// signal and is no longer tracked.
type EventServiceStopped struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

func (ev *EventServiceStopped) Type() string { return eventServiceStopped }
func (ev *EventServiceStopped) event()       {}

// EventServiceStopError is emitted when the termination signal could not be
// delivered. The service stays tracked.
type EventServiceStopError struct {
	ID    string `json:"id"`
	PID   int    `json:"pid"`
	Error string `json:"error"`
}

func (ev *EventServiceStopError) Type() string { return eventServiceStopError }
func (ev *EventServiceStopError) event()       {}

// EventRunlevelSwitched is emitted when the runlevel changes.
type EventRunlevelSwitched struct {
	From Runlevel `json:"from"`
	To   Runlevel `json:"to"`
}

func (ev *EventRunlevelSwitched) Type() string { return eventRunlevelSwitched }
func (ev *EventRunlevelSwitched) event()       {}

// EventRequestQueued is emitted when a control request passed validation.
type EventRequestQueued struct {
	RequestID string      `json:"request_id"`
	PID       int         `json:"pid"`
	Kind      RequestKind `json:"kind"`
}

func (ev *EventRequestQueued) Type() string { return eventRequestQueued }
func (ev *EventRequestQueued) event()       {}

// EventRequestRejected is emitted when a control request failed validation
// and was dropped.
type EventRequestRejected struct {
	RequestID string `json:"request_id,omitempty"`
	PID       string `json:"pid"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

func (ev *EventRequestRejected) Type() string { return eventRequestRejected }
func (ev *EventRequestRejected) event()       {}

// EventRequestDispatched is emitted when a queued control request has been
// handled.
type EventRequestDispatched struct {
	RequestID string      `json:"request_id"`
	PID       int         `json:"pid"`
	Kind      RequestKind `json:"kind"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
}

func (ev *EventRequestDispatched) Type() string { return eventRequestDispatched }
func (ev *EventRequestDispatched) event()       {}

// EventReplyError is emitted when a reply could not be delivered to its
// requester.
type EventReplyError struct {
	RequestID string `json:"request_id"`
	PID       int    `json:"pid"`
	Error     string `json:"error"`
}

func (ev *EventReplyError) Type() string { return eventReplyError }
func (ev *EventReplyError) event()       {}

// EventChannelUnavailable is emitted once on startup if the control channel
// could not be opened. Replies are dropped from then on.
type EventChannelUnavailable struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func (ev *EventChannelUnavailable) Type() string { return eventChannelUnavailable }
func (ev *EventChannelUnavailable) event()       {}
