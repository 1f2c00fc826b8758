// Package initctl implements the control channel of initd: a FIFO that
// requesters write JSON requests into, and one reply FIFO per requester that
// the supervisor answers on.
//
// The channel directory looks like this:
//
//    - /run/initd/
//        - control       (FIFO, read by initd)
//        - reply.1234    (FIFO, created by the requester with PID 1234)
//        - runlevel      (JSON state file)
//
package initctl

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/pkg/errors"
)

// DefaultDir is the default channel directory.
const DefaultDir = "/run/initd"

const (
	controlName  = "control"
	replyPrefix  = "reply."
	runlevelName = "runlevel"
)

// ControlPath returns the path of the control FIFO in dir.
func ControlPath(dir string) string { return filepath.Join(dir, controlName) }

// ReplyPath returns the path of the reply FIFO for the requester pid.
func ReplyPath(dir string, pid int) string {
	return filepath.Join(dir, replyPrefix+strconv.Itoa(pid))
}

// RunlevelPath returns the path of the runlevel state file in dir.
func RunlevelPath(dir string) string { return filepath.Join(dir, runlevelName) }

// Request is a control request as written on the control FIFO. PID may be a
// JSON number or a string; the supervisor validates it.
type Request struct {
	ID   string          `json:"id,omitempty"`
	PID  json.RawMessage `json:"pid"`
	Kind string          `json:"kind"`
	Arg  interface{}     `json:"arg,omitempty"`
}

// NewRequest creates a request from the given requester.
func NewRequest(id string, pid int, kind initd.RequestKind, arg interface{}) Request {
	return Request{
		ID:   id,
		PID:  json.RawMessage(strconv.Itoa(pid)),
		Kind: string(kind),
		Arg:  arg,
	}
}

// Signal converts the request into the form the event loop validates.
func (r Request) Signal() initd.ControlSignal {
	return initd.ControlSignal{
		RequestID: r.ID,
		PID:       rawPID(r.PID),
		Kind:      r.Kind,
		Arg:       r.Arg,
	}
}

func rawPID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// DecodeRequest decodes one line of the control FIFO.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return req, errors.Wrap(err, "failed to decode request")
	}
	return req, nil
}

func encodeLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
