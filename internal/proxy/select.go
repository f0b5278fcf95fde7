// select.go - unix.Select helpers shared by the accept loop and workers.
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

import "golang.org/x/sys/unix"

// selectReady blocks, with no timeout, until at least one of readFds is
// readable, and reports which of them were. Negative fds are ignored, so
// callers can pass an absent liveness fd as -1 unconditionally.
func selectReady(readFds []int) (map[int]bool, error) {
	maxFd := 0
	have := false
	for _, fd := range readFds {
		if fd < 0 {
			continue
		}
		have = true
		if fd > maxFd {
			maxFd = fd
		}
	}
	if !have {
		return nil, nil
	}

	var rset unix.FdSet
	for {
		rset.Zero()
		for _, fd := range readFds {
			if fd >= 0 {
				rset.Set(fd)
			}
		}
		_, err := unix.Select(maxFd+1, &rset, nil, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	ready := make(map[int]bool, len(readFds))
	for _, fd := range readFds {
		if fd >= 0 && rset.IsSet(fd) {
			ready[fd] = true
		}
	}
	return ready, nil
}
