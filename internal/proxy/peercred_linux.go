// peercred_linux.go - Peer PID lookup, Linux.
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

//go:build linux

package proxy

import "golang.org/x/sys/unix"

// peerPID returns the PID of the process on the other end of the
// Unix-domain socket fd, via SO_PEERCRED. A failure (the socket isn't a
// Unix-domain stream socket, or the kernel doesn't support it) yields 0,
// which never matches a filtered PID.
func peerPID(fd int) int32 {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0
	}
	return ucred.Pid
}
