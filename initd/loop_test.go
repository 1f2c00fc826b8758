package initd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInittab = `:boot
rc:1:wait:/etc/rc.single
single:1:respawn:/sbin/sulogin
syslog:12:respawn:syslogd -n
tty1:2345:respawn:/sbin/getty tty1
`

type recordedSwitch struct{ Prev, Cur Runlevel }

type mockRecorder struct {
	switches []recordedSwitch
	err      error
}

func (r *mockRecorder) RecordRunlevel(prev, cur Runlevel) error {
	r.switches = append(r.switches, recordedSwitch{prev, cur})
	return r.err
}

type loopTest struct {
	loop     *Loop
	kernel   *fakeKernel
	journal  *mockJournal
	recorder *mockRecorder
	inittab  string
}

func newLoopTest(t *testing.T, inittab string) *loopTest {
	t.Helper()

	path := filepath.Join(t.TempDir(), "inittab")
	if inittab != "" {
		require.NoError(t, os.WriteFile(path, []byte(inittab), 0644))
	}

	k := newFakeKernel()
	k.alive[4000] = true
	k.alive[4001] = true

	j := &mockJournal{}
	r := &mockRecorder{}

	loop := NewLoop(k, j, Options{
		Inittab:  path,
		Recorder: r,
	})

	return &loopTest{loop, k, j, r, path}
}

func (lt *loopTest) boot(t *testing.T) {
	t.Helper()

	lt.loop.Boot()
	require.Equal(t, SingleUser, lt.loop.Supervisor().Runlevel())

	lt.kernel.reset()
	lt.journal.Reset()
	lt.recorder.switches = nil
}

func (lt *loopTest) step(t *testing.T, evs ...HostEvent) {
	t.Helper()

	lt.kernel.push(evs...)
	for range evs {
		require.NoError(t, lt.loop.Step(context.Background()))
	}
}

func TestLoopBoot(t *testing.T) {
	t.Run("inittab", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.loop.Boot()

		sup := lt.loop.Supervisor()
		assert.Equal(t, SingleUser, sup.Runlevel())
		assert.Equal(t, 4, sup.Table().Len())

		assert.Equal(t, []string{"rc", "single", "syslog"}, lt.kernel.spawnedIDs())
		assert.Len(t, lt.kernel.waits, 1, "rc must block the supervisor")
		assert.Equal(t, []string{"single", "syslog"}, sup.ActiveIDs())

		assert.Equal(t, []recordedSwitch{{NoRunlevel, SingleUser}}, lt.recorder.switches)

		loaded := lt.journal.OfType(eventTableLoaded)
		require.Len(t, loaded, 1)
		assert.Equal(t, &EventTableLoaded{Path: lt.inittab, Services: 4}, loaded[0])
	})

	t.Run("missing inittab", func(t *testing.T) {
		lt := newLoopTest(t, "")
		lt.loop.Boot()

		sup := lt.loop.Supervisor()
		assert.Equal(t, SingleUser, sup.Runlevel())
		assert.Equal(t, 0, sup.Table().Len())
		assert.Empty(t, lt.kernel.spawned)
		assert.Len(t, lt.journal.OfType(eventConfigError), 1)
	})

	t.Run("malformed lines", func(t *testing.T) {
		lt := newLoopTest(t, "a:1:once:true\nbadline\nb:1:once:true\n")
		lt.loop.Boot()

		assert.Equal(t, []string{"a", "b"}, lt.kernel.spawnedIDs())

		lineErrs := lt.journal.OfType(eventConfigLineError)
		require.Len(t, lineErrs, 1)
		assert.Equal(t, 2, lineErrs[0].(*EventConfigLineError).Line)
		assert.Equal(t, "badline", lineErrs[0].(*EventConfigLineError).Text)

		loaded := lt.journal.OfType(eventTableLoaded)
		require.Len(t, loaded, 1)
		assert.Equal(t, 1, loaded[0].(*EventTableLoaded).Skipped)
	})

	t.Run("recorder error", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.recorder.err = errors.New("read-only file system")
		lt.loop.Boot()

		warnings := lt.journal.OfType(eventWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "recorder", warnings[0].(*EventWarning).Component)
	})
}

func TestLoopProcessExit(t *testing.T) {
	lt := newLoopTest(t, testInittab)
	lt.boot(t)

	sup := lt.loop.Supervisor()
	oldPID, ok := sup.PID("single")
	require.True(t, ok)

	lt.step(t, exitOf(oldPID, 0))

	newPID, ok := sup.PID("single")
	require.True(t, ok)
	assert.NotEqual(t, oldPID, newPID)
	assert.Equal(t, []string{"single"}, lt.kernel.spawnedIDs())
	assert.True(t, sup.Respawning(newPID))
	assert.False(t, sup.Respawning(oldPID))
}

func TestLoopControlSignal(t *testing.T) {
	t.Run("dead requester", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "x", PID: "9999", Kind: "status"})

		assert.Equal(t, 0, lt.loop.Queued())
		assert.Empty(t, lt.kernel.replies)
		assert.Empty(t, lt.journal.OfType(eventRequestQueued))

		rejected := lt.journal.OfType(eventRequestRejected)
		require.Len(t, rejected, 1)
		assert.Equal(t, "x", rejected[0].(*EventRequestRejected).RequestID)
		assert.Contains(t, rejected[0].(*EventRequestRejected).Reason, ErrPIDNotAlive.Error())
	})

	t.Run("request id assigned", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{PID: "4000", Kind: "status"})

		require.Len(t, lt.kernel.replies, 1)
		assert.NotEmpty(t, lt.kernel.replies[0].RequestID)
	})
}

func TestLoopDrainsOnePerPass(t *testing.T) {
	lt := newLoopTest(t, testInittab)
	lt.boot(t)

	require.NoError(t, lt.loop.queue.Push(ControlRequest{ID: "A", PID: 4000, Kind: KindRunlevel, Runlevel: 2}))
	require.NoError(t, lt.loop.queue.Push(ControlRequest{ID: "B", PID: 4001, Kind: KindStatus, Runlevel: NoRunlevel}))

	// Any event starts a pass; an exit of an unknown process does nothing
	// by itself.
	lt.step(t, exitOf(31337, 0))

	require.Len(t, lt.kernel.replies, 1)
	assert.Equal(t, "A", lt.kernel.replies[0].RequestID)
	assert.Equal(t, Runlevel(2), lt.loop.Supervisor().Runlevel())
	assert.Equal(t, 1, lt.loop.Queued())

	lt.step(t, exitOf(31338, 0))

	require.Len(t, lt.kernel.replies, 2)
	assert.Equal(t, "B", lt.kernel.replies[1].RequestID)
	assert.Equal(t, 0, lt.loop.Queued())
}

func TestLoopDispatch(t *testing.T) {
	t.Run("runlevel query", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "q", PID: "4000", Kind: "runlevel"})

		assert.Equal(t, []Reply{{
			RequestID: "q",
			PID:       4000,
			Kind:      KindRunlevel,
			OK:        true,
			Runlevel:  SingleUser,
		}}, lt.kernel.replies)

		assert.Empty(t, lt.kernel.spawned)
		assert.Empty(t, lt.journal.OfType(eventRunlevelSwitched))
	})

	t.Run("runlevel unchanged", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "same", PID: "4000", Kind: "runlevel", Arg: float64(1)})

		assert.Empty(t, lt.kernel.spawned)
		assert.Empty(t, lt.kernel.signals)
		assert.Empty(t, lt.journal.OfType(eventRunlevelSwitched))
		assert.Empty(t, lt.recorder.switches)

		require.Len(t, lt.kernel.replies, 1)
		assert.True(t, lt.kernel.replies[0].OK)
		assert.False(t, lt.kernel.replies[0].Changed)
	})

	t.Run("runlevel switch", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		singlePID, _ := lt.loop.Supervisor().PID("single")

		lt.step(t, ControlSignal{RequestID: "sw", PID: "4000", Kind: "runlevel", Arg: float64(2)})

		assert.Equal(t, []int{singlePID}, lt.kernel.signaledPIDs())
		assert.Equal(t, []string{"syslog", "tty1"}, lt.kernel.spawnedIDs())
		assert.Equal(t, []recordedSwitch{{SingleUser, 2}}, lt.recorder.switches)

		require.Len(t, lt.kernel.replies, 1)
		reply := lt.kernel.replies[0]
		assert.True(t, reply.OK)
		assert.True(t, reply.Changed)
		assert.Equal(t, Runlevel(2), reply.Runlevel)
	})

	// Start requests resolve the service ID through the table rather than
	// through the PID map.
	t.Run("start resolves service id", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "s", PID: "4000", Kind: "start", Arg: "tty1"})

		require.Len(t, lt.kernel.spawned, 1)
		assert.Equal(t, "/sbin/getty tty1", lt.kernel.spawned[0].Argv[2])

		pid, ok := lt.loop.Supervisor().PID("tty1")
		require.True(t, ok)

		require.Len(t, lt.kernel.replies, 1)
		assert.True(t, lt.kernel.replies[0].OK)
		assert.Equal(t, pid, lt.kernel.replies[0].ServicePID)
	})

	t.Run("start unknown service", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "s", PID: "4000", Kind: "start", Arg: "nope"})

		assert.Empty(t, lt.kernel.spawned)
		require.Len(t, lt.kernel.replies, 1)
		assert.False(t, lt.kernel.replies[0].OK)
		assert.Contains(t, lt.kernel.replies[0].Error, ErrUnknownService.Error())
	})

	t.Run("start spawn error", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)
		lt.kernel.spawnErrs["tty1"] = errors.New("out of processes")

		lt.step(t, ControlSignal{RequestID: "s", PID: "4000", Kind: "start", Arg: "tty1"})

		require.Len(t, lt.kernel.replies, 1)
		assert.False(t, lt.kernel.replies[0].OK)
		assert.Contains(t, lt.kernel.replies[0].Error, "out of processes")
	})

	t.Run("stop resolves service id", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		syslogPID, _ := lt.loop.Supervisor().PID("syslog")

		lt.step(t, ControlSignal{RequestID: "s", PID: "4000", Kind: "stop", Arg: "syslog"})

		assert.Equal(t, []int{syslogPID}, lt.kernel.signaledPIDs())
		_, ok := lt.loop.Supervisor().PID("syslog")
		assert.False(t, ok)

		require.Len(t, lt.kernel.replies, 1)
		assert.True(t, lt.kernel.replies[0].OK)
		assert.True(t, lt.kernel.replies[0].Stopped)
	})

	t.Run("stop service not running", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "s", PID: "4000", Kind: "stop", Arg: "tty1"})

		assert.Empty(t, lt.kernel.signals)
		require.Len(t, lt.kernel.replies, 1)
		assert.True(t, lt.kernel.replies[0].OK)
		assert.False(t, lt.kernel.replies[0].Stopped)
	})

	// Status is accepted and answered, not silently dropped.
	t.Run("status", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		lt.step(t, ControlSignal{RequestID: "st", PID: "4001", Kind: "status"})

		assert.Equal(t, []Reply{{
			RequestID: "st",
			PID:       4001,
			Kind:      KindStatus,
			OK:        true,
			Runlevel:  SingleUser,
			Services:  []string{"single", "syslog"},
		}}, lt.kernel.replies)

		dispatched := lt.journal.OfType(eventRequestDispatched)
		require.Len(t, dispatched, 1)
		assert.Equal(t, KindStatus, dispatched[0].(*EventRequestDispatched).Kind)
	})
}

func TestLoopReply(t *testing.T) {
	t.Run("reply error", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)
		lt.kernel.replyErr = errors.New("no reader")

		lt.step(t, ControlSignal{RequestID: "r", PID: "4000", Kind: "status"})

		replyErrs := lt.journal.OfType(eventReplyError)
		require.Len(t, replyErrs, 1)
		assert.Equal(t, "r", replyErrs[0].(*EventReplyError).RequestID)
	})

	t.Run("channel unavailable", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)
		lt.kernel.replyErr = ErrChannelUnavailable

		lt.step(t, ControlSignal{RequestID: "r", PID: "4000", Kind: "status"})

		assert.Empty(t, lt.journal.OfType(eventReplyError))
		assert.Len(t, lt.journal.OfType(eventRequestDispatched), 1)
	})
}

func TestLoopReload(t *testing.T) {
	t.Run("converges", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		syslogPID, _ := lt.loop.Supervisor().PID("syslog")
		singlePID, _ := lt.loop.Supervisor().PID("single")

		updated := "single:1:respawn:/sbin/sulogin\nklog:1:respawn:klogd -n\n"
		require.NoError(t, os.WriteFile(lt.inittab, []byte(updated), 0644))

		lt.step(t, ReloadTable{})

		assert.Equal(t, []int{syslogPID}, lt.kernel.signaledPIDs())
		assert.Equal(t, []string{"klog"}, lt.kernel.spawnedIDs())

		pid, _ := lt.loop.Supervisor().PID("single")
		assert.Equal(t, singlePID, pid)

		loaded := lt.journal.OfType(eventTableLoaded)
		require.Len(t, loaded, 1)
		assert.True(t, loaded[0].(*EventTableLoaded).Reload)
	})

	t.Run("unreadable keeps table", func(t *testing.T) {
		lt := newLoopTest(t, testInittab)
		lt.boot(t)

		require.NoError(t, os.Remove(lt.inittab))

		lt.step(t, ReloadTable{})

		assert.Equal(t, 4, lt.loop.Supervisor().Table().Len())
		assert.Empty(t, lt.kernel.signals)
		assert.Empty(t, lt.kernel.spawned)
		assert.Len(t, lt.journal.OfType(eventConfigError), 1)
	})
}

func TestLoopRun(t *testing.T) {
	lt := newLoopTest(t, testInittab)
	lt.boot(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lt.kernel.drained = cancel
	lt.kernel.push(
		ControlSignal{RequestID: "a", PID: "4000", Kind: "status"},
		ControlSignal{RequestID: "b", PID: "4000", Kind: "runlevel"},
	)

	err := lt.loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, lt.kernel.replies, 2)
}

func TestLoopStepError(t *testing.T) {
	lt := newLoopTest(t, testInittab)

	err := lt.loop.Step(context.Background())
	assert.ErrorIs(t, err, errNoEvents)
}
