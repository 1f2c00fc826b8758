package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/diamondburned/backwardio"
	"github.com/pkg/errors"
)

// ErrCorrupt is returned by Reader.Read for a line that is not a journal
// event. Reading can continue past it.
var ErrCorrupt = errors.New("corrupt journal entry")

// Reader reads journals written by Writer from the newest entry to the oldest.
type Reader struct {
	b *backwardio.Scanner
}

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads a single entry, starting from the bottom of the file. An EOF
// error is returned if the file has been fully consumed.
func (r *Reader) Read() (initd.Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.b.ReadUntil('\n')
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, errors.Wrapf(ErrCorrupt, "failed to decode JSON: %v", err)
	}

	event := initd.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, errors.Wrapf(ErrCorrupt, "unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, errors.Wrapf(ErrCorrupt, "failed to decode event data: %v", err)
	}

	return event, rawEvent.Time, nil
}

// Entry is a journal event with the time it was written.
type Entry struct {
	Time  time.Time
	Event initd.Event
}

// ReadLast reads up to n of the newest events from the journal at path,
// newest first. Lines that fail to decode are skipped.
func ReadLast(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := NewReader(f)
	var entries []Entry

	for n <= 0 || len(entries) < n {
		ev, t, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ErrCorrupt) {
				continue
			}
			return entries, err
		}

		entries = append(entries, Entry{Time: t, Event: ev})
	}

	return entries, nil
}
