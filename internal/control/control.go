// control.go - Supervisor control channel.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package control implements the small datagram protocol a supervising
// process uses to tell the proxy which peer PIDs should have their
// traffic filtered.
//
// Two things share the control fd: an outbound, one-shot announcement of
// the shadow DISPLAY string, and an inbound stream of 5-byte
// (command byte, pid uint32) messages, polled non-blocking on every pass
// through the accept loop's select.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/rlog"
)

// ErrClosed is returned by Poll when the peer has closed its end of the
// control channel - the signal, in control-fd-only mode, that the accept
// loop should return.
var ErrClosed = errors.New("control: channel closed")

const (
	// CmdAdd adds a PID to the filtered set.
	CmdAdd byte = 0
	// CmdRemove removes a PID from the filtered set.
	CmdRemove byte = 1

	messageLen = 5
)

// FilteredPIDs is the mutex-guarded set of peer PIDs whose client->server
// traffic should be routed through the filter pipeline. The accept
// goroutine and every worker goroutine share one instance.
type FilteredPIDs struct {
	mu  sync.Mutex
	set map[int32]struct{}
}

// NewFilteredPIDs returns an empty set.
func NewFilteredPIDs() *FilteredPIDs {
	return &FilteredPIDs{set: make(map[int32]struct{})}
}

// Add adds pid to the set. Adding an already-present pid is a no-op.
func (f *FilteredPIDs) Add(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[pid] = struct{}{}
}

// Remove removes pid from the set. Removing an absent pid is a no-op.
func (f *FilteredPIDs) Remove(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, pid)
}

// Contains reports whether pid is currently filtered.
func (f *FilteredPIDs) Contains(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.set[pid]
	return ok
}

// Apply decodes a single 5-byte control message and applies it to f. It
// returns an error if b isn't exactly 5 bytes - per the protocol, that
// indicates a supervisor bug and the proxy must terminate.
func Apply(f *FilteredPIDs, b []byte) error {
	cmd, pid, err := Decode(b)
	if err != nil {
		return err
	}
	switch cmd {
	case CmdAdd:
		f.Add(pid)
	case CmdRemove:
		f.Remove(pid)
	default:
		return fmt.Errorf("control: unknown command %d", cmd)
	}
	return nil
}

// Decode parses a raw control message into its command and PID.
func Decode(b []byte) (cmd byte, pid int32, err error) {
	if len(b) != messageLen {
		return 0, 0, fmt.Errorf("control: message length %d, want %d", len(b), messageLen)
	}
	cmd = b[0]
	pid = int32(binary.NativeEndian.Uint32(b[1:5]))
	return cmd, pid, nil
}

// Encode serializes a command and PID into the 5-byte wire form.
func Encode(cmd byte, pid int32) []byte {
	b := make([]byte, messageLen)
	b[0] = cmd
	binary.NativeEndian.PutUint32(b[1:5], uint32(pid))
	return b
}

// SetNonblocking places fd in non-blocking mode. Must be called once,
// before the first call to Poll.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// AnnounceDisplay sends the shadow DISPLAY string once, best-effort, as
// the supervisor handshake's outbound half. Bytes only: no length prefix,
// no terminator.
func AnnounceDisplay(fd int, shadowDisplay string) {
	if err := unix.Send(fd, []byte(shadowDisplay), unix.MSG_DONTWAIT); err != nil {
		rlog.L.Warn().Err(err).Msg("control: failed to announce shadow display")
	}
}

// Poll does one non-blocking recv on fd and, if a message arrived, applies
// it to f. It returns (applied=false, nil) on EAGAIN/EWOULDBLOCK - the
// normal "nothing to do" case on every accept-loop pass. It returns
// ErrClosed when the peer has shut down its end (recv returns zero bytes
// with no error). Any other error, including a malformed message length,
// is returned so the caller can terminate the proxy per the control-channel
// error policy.
func Poll(fd int, f *FilteredPIDs) (applied bool, err error) {
	buf := make([]byte, messageLen+1) // +1 so an oversized message is detectable, not silently truncated.
	n, _, err := unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, ErrClosed
	}
	if err := Apply(f, buf[:n]); err != nil {
		return false, err
	}
	return true, nil
}
