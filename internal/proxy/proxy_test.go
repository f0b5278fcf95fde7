package proxy

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/control"
	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/wire"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// internAtomRequest builds a well-formed InternAtom (opcode 0x10) request
// naming atom "AB": 4-byte header (length 3 units = 12 bytes) followed by
// a body of name-length, a 2-byte pad, the 2-byte name, and 2 bytes of
// trailing pad to round the name out to a 4-byte boundary.
func internAtomRequest() []byte {
	return []byte{
		wire.OpInternAtom, 0, 0x03, 0x00, // header: opcode, data byte, length=3 units
		0x02, 0x00, // name length = 2
		0x00, 0x00, // pad
		'A', 'B', // name
		0x00, 0x00, // pad to 4-byte boundary
	}
}

func readAll(t *testing.T, fd int, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var out []byte
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestRelayPidToggleScenario(t *testing.T) {
	clientLocal, clientRemote := socketpair(t)
	serverLocal, serverRemote := socketpair(t)

	filtered := control.NewFilteredPIDs()
	const pid = int32(4242)

	engine := policy.NewEngine()
	engine.Register(wire.InternAtom{}, func(wire.Decoded) policy.Verdict { return policy.Deny })

	cfg := Config{Filtered: filtered, Engine: engine, LivenessFd: noFd}

	done := make(chan error, 1)
	go func() { done <- relay(clientRemote, serverRemote, pid, cfg) }()

	req := internAtomRequest()

	// Not yet filtered: the InternAtom request should reach the server
	// verbatim even though the policy would deny it once filtering is on.
	_, err := unix.Write(clientLocal, req)
	require.NoError(t, err)
	require.Equal(t, req, readAll(t, serverLocal, time.Second))

	// Supervisor marks the peer PID as filtered.
	filtered.Add(pid)

	// Now the same request should be dropped: nothing more arrives upstream.
	_, err = unix.Write(clientLocal, req)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	got := readAll(t, serverLocal, 100*time.Millisecond)
	require.Empty(t, got, "filtered InternAtom must not reach upstream")

	unix.Close(clientLocal)
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not exit after client closed")
	}
}

func TestRelayUnblocksOnLivenessFd(t *testing.T) {
	clientLocal, clientRemote := socketpair(t)
	serverLocal, serverRemote := socketpair(t)
	_ = serverLocal

	livenessRead, livenessWrite, err := os.Pipe()
	require.NoError(t, err)
	defer livenessRead.Close()

	cfg := Config{
		Filtered:   control.NewFilteredPIDs(),
		Engine:     policy.NewEngine(),
		LivenessFd: int(livenessRead.Fd()),
	}

	done := make(chan error, 1)
	go func() { done <- relay(clientRemote, serverRemote, 0, cfg) }()

	// Give the worker a chance to park in its select().
	time.Sleep(50 * time.Millisecond)

	// Simulate the tethered process exiting: closing the write end makes
	// the read end readable (EOF), which must unblock the worker's select
	// even though neither data socket has anything ready.
	require.NoError(t, livenessWrite.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, errLivenessGone)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not unblock on liveness fd becoming readable")
	}

	_ = clientLocal
}
