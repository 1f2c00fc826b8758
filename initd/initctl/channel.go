package initctl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"git.unix.lgbt/diamondburned/initd/initd"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxLine is the largest request accepted, newline included. Writes up to
// PIPE_BUF are atomic, so requests from different requesters never interleave.
// Longer lines are dropped.
const maxLine = 4096

// Channel is the supervisor's end of the control channel.
type Channel struct {
	Signals chan initd.ControlSignal

	dir  string
	f    *os.File
	j    initd.Journaler
	once sync.Once
}

// Open creates the channel directory and control FIFO, then starts reading
// requests until ctx is canceled or Close is called.
func Open(ctx context.Context, dir string, j initd.Journaler) (*Channel, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create channel dir")
	}

	path := ControlPath(dir)
	if err := ensureFIFO(path, 0622); err != nil {
		return nil, err
	}

	// Opening read-write keeps a writer around, so reads block instead of
	// seeing EOF whenever the last requester closes its end.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open control fifo")
	}

	ch := &Channel{
		Signals: make(chan initd.ControlSignal),
		dir:     dir,
		f:       f,
		j:       j,
	}

	go ch.read(ctx)
	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	return ch, nil
}

// ensureFIFO makes sure path is a FIFO, replacing whatever else is there.
func ensureFIFO(path string, mode uint32) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil {
		if st.Mode&unix.S_IFMT == unix.S_IFIFO {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrap(err, "failed to remove stale control file")
		}
	}

	if err := unix.Mkfifo(path, mode); err != nil {
		return errors.Wrapf(err, "failed to create fifo %s", path)
	}
	return nil
}

// Dir returns the channel directory.
func (ch *Channel) Dir() string { return ch.dir }

func (ch *Channel) read(ctx context.Context) {
	r := bufio.NewReaderSize(ch.f, maxLine)

	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			ch.j.Write(&initd.EventRequestRejected{
				Reason: fmt.Sprintf("request longer than %d bytes", maxLine),
			})

			if err := skipLine(r); err != nil {
				ch.readError(ctx, err)
				return
			}
			continue
		}
		if err != nil {
			ch.readError(ctx, err)
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		req, err := DecodeRequest(line)
		if err != nil {
			ch.j.Write(&initd.EventWarning{
				Component: "initctl",
				Error:     err.Error(),
			})
			continue
		}

		select {
		case ch.Signals <- req.Signal():
		case <-ctx.Done():
			return
		}
	}
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

func (ch *Channel) readError(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
		return
	}

	ch.j.Write(&initd.EventWarning{
		Component: "initctl",
		Error:     "control fifo read error: " + err.Error(),
	})
}

// Reply writes the reply into the requester's reply FIFO. It fails if the
// requester is no longer listening.
func (ch *Channel) Reply(reply initd.Reply) error {
	path := ReplyPath(ch.dir, reply.PID)

	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return errors.Wrap(err, "failed to open reply fifo")
	}
	defer f.Close()

	line, err := encodeLine(reply)
	if err != nil {
		return errors.Wrap(err, "failed to encode reply")
	}

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "failed to write reply")
	}

	return nil
}

// Close stops reading requests.
func (ch *Channel) Close() error {
	var err error
	ch.once.Do(func() { err = ch.f.Close() })
	return err
}
