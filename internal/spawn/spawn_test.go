package spawn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/spawn"
)

func TestLaunchSetsDisplayAndTracksExit(t *testing.T) {
	target, err := spawn.Launch("/bin/sh", []string{"-c", "echo \"DISPLAY=$DISPLAY\" 1>&2; exit 0"}, ":7")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		target.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("target did not exit in time")
	}

	// The child echoed its DISPLAY to stderr, which is the liveness pipe.
	buf := make([]byte, 64)
	n, err := unix.Read(target.LivenessFd(), buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "DISPLAY=:7")
}

func TestLivenessFdBecomesReadableOnExit(t *testing.T) {
	target, err := spawn.Launch("/bin/sh", []string{"-c", "exit 0"}, ":7")
	require.NoError(t, err)

	fd := target.LivenessFd()

	var rfds unix.FdSet
	rfds.Zero()
	rfds.Set(fd)

	tv := unix.Timeval{Sec: 5}
	n, err := unix.Select(fd+1, &rfds, nil, nil, &tv)
	require.NoError(t, err)
	require.Equal(t, 1, n, "liveness fd should become readable once the child exits")

	target.Wait()
}

func TestAddTermHookRunsOnExit(t *testing.T) {
	target, err := spawn.Launch("/bin/sh", []string{"-c", "exit 0"}, ":7")
	require.NoError(t, err)

	ran := make(chan struct{})
	target.AddTermHook(func() { close(ran) })
	target.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("term hook did not run")
	}
}
