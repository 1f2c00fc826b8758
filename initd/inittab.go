package initd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Runlevel is an operating mode of the supervisor, from 0 to 9.
type Runlevel int

const (
	// NoRunlevel is the runlevel before the first switch.
	NoRunlevel Runlevel = -1
	// SingleUser is the runlevel forced on boot.
	SingleUser Runlevel = 1
	// MaxRunlevel is the largest runlevel an inittab can name.
	MaxRunlevel Runlevel = 9
)

// Valid returns true if the runlevel can be switched to.
func (r Runlevel) Valid() bool {
	return r >= 0 && r <= MaxRunlevel
}

func (r Runlevel) String() string {
	if r == NoRunlevel {
		return "N"
	}
	return fmt.Sprintf("%d", int(r))
}

// Runlevels is a set of runlevels.
type Runlevels uint16

// ParseRunlevels scans s for decimal digits and returns the set of them. Every
// other character is ignored.
func ParseRunlevels(s string) Runlevels {
	var set Runlevels
	for _, r := range s {
		if r >= '0' && r <= '9' {
			set = set.With(Runlevel(r - '0'))
		}
	}
	return set
}

// With returns the set with r added.
func (set Runlevels) With(r Runlevel) Runlevels {
	if !r.Valid() {
		return set
	}
	return set | 1<<uint(r)
}

// Has returns true if r is in the set.
func (set Runlevels) Has(r Runlevel) bool {
	return r.Valid() && set&(1<<uint(r)) != 0
}

// List returns the runlevels in ascending order.
func (set Runlevels) List() []Runlevel {
	var levels []Runlevel
	for r := Runlevel(0); r <= MaxRunlevel; r++ {
		if set.Has(r) {
			levels = append(levels, r)
		}
	}
	return levels
}

func (set Runlevels) String() string {
	var b strings.Builder
	for _, r := range set.List() {
		b.WriteByte(byte('0' + r))
	}
	return b.String()
}

// Action describes what the supervisor does with a service's process.
type Action string

const (
	// ActionOnce runs the command and watches it without restarting it.
	ActionOnce Action = "once"
	// ActionWait runs the command and blocks the supervisor until it exits.
	ActionWait Action = "wait"
	// ActionRespawn runs the command and restarts it whenever it exits.
	ActionRespawn Action = "respawn"
)

// Tracked returns true if processes of this action are kept in the pid table.
func (a Action) Tracked() bool {
	return a == ActionOnce || a == ActionRespawn
}

// ServiceEntry is one service line of the inittab.
type ServiceEntry struct {
	ID        string
	Runlevels Runlevels
	// Action is usually one of the Action constants. Any other value is
	// started and forgotten.
	Action  Action
	Command string
	// Index is the position of the entry in the table.
	Index int
}

// Same returns true if both entries describe the same service, ignoring where
// they were declared.
func (e *ServiceEntry) Same(other *ServiceEntry) bool {
	return e.ID == other.ID &&
		e.Runlevels == other.Runlevels &&
		e.Action == other.Action &&
		e.Command == other.Command
}

func (e *ServiceEntry) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", e.ID, e.Runlevels, e.Action, e.Command)
}

// Table is an ordered set of services, addressable by ID. A zero-value Table
// is an empty table.
type Table struct {
	entries []*ServiceEntry
	byID    map[string]*ServiceEntry
	next    int
}

// NewTable creates a table from the given entries in order. Entries sharing an
// ID replace the earlier ones.
func NewTable(entries ...ServiceEntry) *Table {
	t := &Table{}
	for i := range entries {
		entry := entries[i]
		t.add(&entry)
	}
	return t
}

func (t *Table) add(entry *ServiceEntry) {
	if t.byID == nil {
		t.byID = make(map[string]*ServiceEntry)
	}

	if old, ok := t.byID[entry.ID]; ok {
		for i, e := range t.entries {
			if e == old {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				break
			}
		}
	}

	entry.Index = t.next
	t.next++

	t.byID[entry.ID] = entry
	t.entries = append(t.entries, entry)
}

// Lookup returns the entry with the given ID.
func (t *Table) Lookup(id string) (*ServiceEntry, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.byID[id]
	return e, ok
}

// Entries returns the entries in declaration order. The returned slice must
// not be modified.
func (t *Table) Entries() []*ServiceEntry {
	if t == nil {
		return nil
	}
	return t.entries
}

// Len returns the number of services in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// ConfigError is an error reading the inittab. Line is 0 if the whole source
// could not be read.
type ConfigError struct {
	Path string
	Line int
	Text string
	Err  error
}

// ErrMalformedLine is the cause of a ConfigError for a line that does not have
// the id:runlevels:action:command shape.
var ErrMalformedLine = errors.New("malformed line, expected id:runlevels:action:command")

func (err *ConfigError) Error() string {
	if err.Line == 0 {
		return fmt.Sprintf("inittab %s: %v", err.Path, err.Err)
	}
	return fmt.Sprintf("inittab %s:%d: %v: %q", err.Path, err.Line, err.Err, err.Text)
}

func (err *ConfigError) Unwrap() error { return err.Err }

// maxLineLength is the longest inittab line accepted, newline included.
const maxLineLength = 64 << 10

// ErrLineTooLong is the cause of a ConfigError for a line longer than the
// parser accepts.
var ErrLineTooLong = errors.New("line too long")

// ParseTable parses an inittab from r. Malformed lines are skipped and returned
// as line errors; the returned error is only non-nil if r itself failed.
func ParseTable(name string, r io.Reader) (*Table, []*ConfigError, error) {
	var lineErrs []*ConfigError

	table := &Table{}
	br := bufio.NewReaderSize(r, maxLineLength)

	for lineNo := 1; ; lineNo++ {
		raw, err := br.ReadSlice('\n')

		if errors.Is(err, bufio.ErrBufferFull) {
			lineErrs = append(lineErrs, &ConfigError{
				Path: name,
				Line: lineNo,
				Text: string(raw[:80]) + "...",
				Err:  ErrLineTooLong,
			})

			err = skipLine(br)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, lineErrs, &ConfigError{
					Path: name,
					Err:  errors.Wrap(err, "failed to read"),
				}
			}
			continue
		}

		if err != nil && !errors.Is(err, io.EOF) {
			return nil, lineErrs, &ConfigError{
				Path: name,
				Err:  errors.Wrap(err, "failed to read"),
			}
		}

		line := strings.TrimRight(string(raw), " \t\r\n")

		if strings.TrimSpace(line) != "" && !strings.HasPrefix(line, ":") {
			if entry, ok := parseLine(line); ok {
				table.add(entry)
			} else {
				lineErrs = append(lineErrs, &ConfigError{
					Path: name,
					Line: lineNo,
					Text: line,
					Err:  ErrMalformedLine,
				})
			}
		}

		if err != nil {
			break
		}
	}

	return table, lineErrs, nil
}

// skipLine discards input up to and including the next newline.
func skipLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func parseLine(line string) (*ServiceEntry, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return nil, false
	}

	id, levels, action, command := parts[0], parts[1], parts[2], parts[3]
	if id == "" || action == "" || strings.TrimSpace(command) == "" {
		return nil, false
	}

	return &ServiceEntry{
		ID:        id,
		Runlevels: ParseRunlevels(levels),
		Action:    Action(action),
		Command:   command,
	}, true
}

// LoadTable reads the inittab at path. If the file cannot be opened or read, a
// ConfigError is returned along with a nil table.
func LoadTable(path string) (*Table, []*ConfigError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ConfigError{
			Path: path,
			Err:  errors.Wrap(err, "failed to open"),
		}
	}
	defer f.Close()

	return ParseTable(path, f)
}
