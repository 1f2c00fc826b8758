package initctl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"golang.org/x/sys/unix"
)

// DefaultTimeout is how long a client waits for a reply.
var DefaultTimeout = 30 * time.Second

// ErrNotRunning is returned when nothing is reading the control FIFO.
var ErrNotRunning = errors.New("initd is not running")

// Client sends control requests to a running supervisor.
type Client struct {
	Dir     string
	Timeout time.Duration
}

// NewClient creates a client for the channel in dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir, Timeout: DefaultTimeout}
}

// Runlevel queries the current runlevel.
func (c *Client) Runlevel(ctx context.Context) (initd.Reply, error) {
	return c.Do(ctx, initd.KindRunlevel, nil)
}

// SetRunlevel switches the runlevel.
func (c *Client) SetRunlevel(ctx context.Context, level initd.Runlevel) (initd.Reply, error) {
	return c.Do(ctx, initd.KindRunlevel, int(level))
}

// Start starts the service with the given ID.
func (c *Client) Start(ctx context.Context, id string) (initd.Reply, error) {
	return c.Do(ctx, initd.KindStart, id)
}

// Stop stops the service with the given ID.
func (c *Client) Stop(ctx context.Context, id string) (initd.Reply, error) {
	return c.Do(ctx, initd.KindStop, id)
}

// Status queries the runlevel and the active services.
func (c *Client) Status(ctx context.Context) (initd.Reply, error) {
	return c.Do(ctx, initd.KindStatus, nil)
}

// Do sends one request and waits for its reply.
func (c *Client) Do(ctx context.Context, kind initd.RequestKind, arg interface{}) (initd.Reply, error) {
	pid := os.Getpid()
	req := NewRequest(xid.New().String(), pid, kind, arg)

	replyPath := ReplyPath(c.Dir, pid)
	if err := ensureFIFO(replyPath, 0600); err != nil {
		return initd.Reply{}, err
	}
	defer os.Remove(replyPath)

	// Read-write for the same reason as the control FIFO: reads wait for the
	// supervisor instead of seeing EOF.
	rf, err := os.OpenFile(replyPath, os.O_RDWR, 0)
	if err != nil {
		return initd.Reply{}, errors.Wrap(err, "failed to open reply fifo")
	}
	defer rf.Close()

	if err := c.send(req); err != nil {
		return initd.Reply{}, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := rf.SetReadDeadline(deadline); err != nil {
		return initd.Reply{}, errors.Wrap(err, "failed to set reply deadline")
	}

	r := bufio.NewReader(rf)

	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return initd.Reply{}, errors.New("timed out waiting for reply")
			}
			return initd.Reply{}, errors.Wrap(err, "failed to read reply")
		}

		var reply initd.Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			return initd.Reply{}, errors.Wrap(err, "failed to decode reply")
		}

		// Leftovers from an earlier requester that had the same PID.
		if reply.RequestID != req.ID {
			continue
		}

		return reply, nil
	}
}

func (c *Client) send(req Request) error {
	line, err := encodeLine(req)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	f, err := os.OpenFile(ControlPath(c.Dir), os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) || errors.Is(err, os.ErrNotExist) {
			return ErrNotRunning
		}
		return errors.Wrap(err, "failed to open control fifo")
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "failed to write request")
	}

	return nil
}
