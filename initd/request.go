package initd

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// RequestKind is the kind of a control request.
type RequestKind string

const (
	// KindRunlevel queries the runlevel, or switches it if a runlevel is given.
	KindRunlevel RequestKind = "runlevel"
	// KindStart starts a service by ID.
	KindStart RequestKind = "start"
	// KindStop stops a service by ID.
	KindStop RequestKind = "stop"
	// KindStatus reports the runlevel and the active services.
	KindStatus RequestKind = "status"
)

// Valid returns true if the kind is known.
func (k RequestKind) Valid() bool {
	switch k {
	case KindRunlevel, KindStart, KindStop, KindStatus:
		return true
	default:
		return false
	}
}

// ControlRequest is a validated control request.
type ControlRequest struct {
	ID   string
	PID  int
	Kind RequestKind
	// Runlevel is the target of a runlevel request, or NoRunlevel for a query.
	Runlevel Runlevel
	// Service is the ID of the service to start or stop.
	Service string
}

// Reply is the answer to a control request.
type Reply struct {
	RequestID string      `json:"request_id"`
	PID       int         `json:"pid"`
	Kind      RequestKind `json:"kind"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
	// Runlevel is the runlevel after the request was handled.
	Runlevel Runlevel `json:"runlevel"`
	// Changed is true if a runlevel request switched the runlevel.
	Changed bool `json:"changed,omitempty"`
	// ServicePID is the process started by a start request.
	ServicePID int `json:"service_pid,omitempty"`
	// Stopped is true if a stop request signaled a process.
	Stopped bool `json:"stopped,omitempty"`
	// Services lists the active service IDs for a status request.
	Services []string `json:"services,omitempty"`
}

// ValidationError is the reason a control signal was dropped.
type ValidationError struct {
	RequestID string
	PID       string
	Kind      string
	Err       error
}

// Validation failures, in the order they are checked.
var (
	ErrPIDNotNumeric = errors.New("requester pid is not numeric")
	ErrPIDNotAlive   = errors.New("requester process does not exist")
	ErrUnknownKind   = errors.New("unknown request kind")
	ErrBadArgument   = errors.New("argument does not match request kind")
)

func (err *ValidationError) Error() string {
	return fmt.Sprintf("invalid %q request from pid %q: %v", err.Kind, err.PID, err.Err)
}

func (err *ValidationError) Unwrap() error { return err.Err }

// Validate checks a control signal and turns it into a ControlRequest. The
// requester's PID must be numeric and alive, the kind must be known and the
// argument must have the type the kind takes.
func Validate(sig ControlSignal, alive func(pid int) bool) (ControlRequest, error) {
	invalid := func(err error) (ControlRequest, error) {
		return ControlRequest{}, &ValidationError{
			RequestID: sig.RequestID,
			PID:       sig.PID,
			Kind:      sig.Kind,
			Err:       err,
		}
	}

	pid, err := strconv.Atoi(sig.PID)
	if err != nil || pid <= 0 {
		return invalid(ErrPIDNotNumeric)
	}

	if !alive(pid) {
		return invalid(ErrPIDNotAlive)
	}

	kind := RequestKind(sig.Kind)
	if !kind.Valid() {
		return invalid(ErrUnknownKind)
	}

	req := ControlRequest{
		ID:       sig.RequestID,
		PID:      pid,
		Kind:     kind,
		Runlevel: NoRunlevel,
	}

	switch kind {
	case KindRunlevel:
		if sig.Arg == nil {
			break
		}
		level, ok := runlevelArg(sig.Arg)
		if !ok {
			return invalid(errors.Wrapf(ErrBadArgument, "runlevel takes a number from 0 to %d", MaxRunlevel))
		}
		req.Runlevel = level

	case KindStart, KindStop:
		id, ok := sig.Arg.(string)
		if !ok || id == "" {
			return invalid(errors.Wrapf(ErrBadArgument, "%s takes a service id", kind))
		}
		req.Service = id

	case KindStatus:
		if sig.Arg != nil {
			return invalid(errors.Wrap(ErrBadArgument, "status takes no argument"))
		}
	}

	return req, nil
}

func runlevelArg(arg interface{}) (Runlevel, bool) {
	var f float64

	switch v := arg.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case Runlevel:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return NoRunlevel, false
		}
		f = n
	default:
		return NoRunlevel, false
	}

	if f != math.Trunc(f) {
		return NoRunlevel, false
	}

	level := Runlevel(f)
	return level, level.Valid()
}
