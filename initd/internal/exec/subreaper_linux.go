package exec

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetSubreaper makes orphaned descendants get reparented to this process, so
// that they are reaped here even when the supervisor is not PID 1.
func SetSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "failed to set subreaper")
	}
	return nil
}
