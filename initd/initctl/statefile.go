package initctl

import (
	"encoding/json"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// RunlevelState is the content of the runlevel state file.
type RunlevelState struct {
	Previous initd.Runlevel `json:"previous"`
	Runlevel initd.Runlevel `json:"runlevel"`
	Time     time.Time      `json:"time"`
}

// StateFile records runlevel switches into a file. It implements
// initd.Recorder.
type StateFile struct {
	Path string
	now  func() time.Time
}

var _ initd.Recorder = (*StateFile)(nil)

// NewStateFile creates a recorder writing to path.
func NewStateFile(path string) *StateFile {
	return &StateFile{Path: path, now: time.Now}
}

// RecordRunlevel atomically replaces the state file.
func (sf *StateFile) RecordRunlevel(prev, cur initd.Runlevel) error {
	now := time.Now
	if sf.now != nil {
		now = sf.now
	}

	b, err := json.Marshal(RunlevelState{
		Previous: prev,
		Runlevel: cur,
		Time:     now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode runlevel state")
	}

	if err := renameio.WriteFile(sf.Path, append(b, '\n'), 0644); err != nil {
		return errors.Wrap(err, "failed to write runlevel state")
	}

	return nil
}

// ReadStateFile reads the runlevel state file at path.
func ReadStateFile(path string) (RunlevelState, error) {
	var state RunlevelState

	b, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}

	if err := json.Unmarshal(b, &state); err != nil {
		return state, errors.Wrap(err, "failed to decode runlevel state")
	}

	return state, nil
}
