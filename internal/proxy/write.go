// write.go - Non-blocking full-buffer writes.
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

package proxy

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errWriteZero is returned when a write succeeds but reports zero bytes
// written with no error - not supposed to happen on a stream socket, but
// worth failing loudly on rather than spinning.
var errWriteZero = errors.New("proxy: write returned zero bytes")

// errLivenessGone is returned when a worker is woken by its liveness fd
// alone, either while parked waiting for write readiness or in the relay
// loop's select with neither stream readable: the process it's tethered to
// has exited, so there's no point in continuing to wait.
var errLivenessGone = errors.New("proxy: tethered process exited")

// writeAllNonblock writes all of b to fd, which must already be
// non-blocking. On EAGAIN it suspends in unix.Select on fd's
// write-readiness and liveness's read-readiness; if liveness wakes it
// instead of fd, it gives up with errLivenessGone rather than retrying a
// write that may never succeed. Pass a negative liveness to disable that
// half of the wait.
func writeAllNonblock(fd int, b []byte, liveness int) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		switch {
		case err == nil && n > 0:
			b = b[n:]
		case err == nil && n == 0:
			return errWriteZero
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			writable, err := waitWritableOrLiveness(fd, liveness)
			if err != nil {
				return err
			}
			if !writable {
				return errLivenessGone
			}
		case err == unix.EINTR:
			// retry immediately
		default:
			return err
		}
	}
	return nil
}

// waitWritableOrLiveness blocks until fd is writable or liveness is
// readable (or both), and reports which woke it. A negative liveness
// disables that half of the set.
func waitWritableOrLiveness(fd, liveness int) (writable bool, err error) {
	maxFd := fd
	if liveness > maxFd {
		maxFd = liveness
	}

	for {
		var rset, wset unix.FdSet
		rset.Zero()
		wset.Zero()
		wset.Set(fd)
		if liveness >= 0 {
			rset.Set(liveness)
		}

		_, err := unix.Select(maxFd+1, &rset, &wset, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return wset.IsSet(fd), nil
	}
}
