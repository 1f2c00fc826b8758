package journal

import (
	"encoding/json"
	"io"
	"sort"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/inconshreveable/log15"
)

// HumanWriter is a journaler that renders events as log lines for a console.
type HumanWriter struct {
	log log15.Logger
}

var _ initd.Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a journaler that writes human-readable lines into w.
// The name is attached to every line.
func NewHumanWriter(name string, w io.Writer) *HumanWriter {
	l := log15.New("journal", name)
	l.SetHandler(log15.StreamHandler(w, log15.TerminalFormat()))

	return &HumanWriter{l}
}

// Write writes the event as one log line. Failures are warnings; everything
// else is informational.
func (h *HumanWriter) Write(ev initd.Event) error {
	ctx := eventContext(ev)

	switch ev.(type) {
	case *initd.EventWarning,
		*initd.EventConfigError,
		*initd.EventConfigLineError,
		*initd.EventProcessSpawnError,
		*initd.EventServiceStopError,
		*initd.EventRequestRejected,
		*initd.EventReplyError,
		*initd.EventChannelUnavailable:

		h.log.Warn(ev.Type(), ctx...)
	default:
		h.log.Info(ev.Type(), ctx...)
	}

	return nil
}

// Field is one key-value pair of an event.
type Field struct {
	Key   string
	Value interface{}
}

// Fields flattens the event's JSON fields into key-value pairs sorted by key.
func Fields(ev initd.Event) []Field {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil
	}

	var values map[string]interface{}
	if err := json.Unmarshal(b, &values); err != nil {
		return nil
	}

	fields := make([]Field, 0, len(values))
	for k, v := range values {
		fields = append(fields, Field{k, v})
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func eventContext(ev initd.Event) []interface{} {
	fields := Fields(ev)

	ctx := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		ctx = append(ctx, f.Key, f.Value)
	}

	return ctx
}
