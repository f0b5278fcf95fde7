// proxy.go - Accept loop and per-connection relay.
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

// Package proxy runs the accept loop and the per-client relay workers that
// together form the filtering proxy: one listening socket, one worker per
// accepted client, and a shared filtered-PID set the control channel
// mutates out of band.
package proxy

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/control"
	"github.com/gcp/rustywin/internal/dump"
	"github.com/gcp/rustywin/internal/filter"
	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/rlog"
	"github.com/gcp/rustywin/internal/socketmgr"
)

const readBufSize = 64 * 1024

// noFd marks an absent optional fd (control channel, liveness).
const noFd = -1

// Config bundles everything the accept loop and its workers need.
type Config struct {
	// ListenFd is the non-blocking shadow-socket listening fd.
	ListenFd int
	// UpstreamPath is the real X server's Unix-domain socket path; each
	// accepted connection dials a fresh connection to it.
	UpstreamPath string
	// ControlFd is the supervisor's control channel fd, or noFd if the
	// proxy was started with a spawned child instead.
	ControlFd int
	// LivenessFd signals (by becoming readable) that the process this run
	// is tethered to - a spawned child, typically - has exited. noFd if
	// there's nothing to track.
	LivenessFd int
	Filtered   *control.FilteredPIDs
	Engine     *policy.Engine
	Dump       *dump.File
}

// Run is the accept loop: poll the control channel, accept new
// connections, spawn a worker per connection, and suspend on the listening,
// control and liveness fds when there's nothing to do. It returns nil when the
// supervisor closes the control channel (control-fd-only mode), or an
// error on a fatal accept/control failure.
func Run(cfg Config) error {
	for {
		if cfg.ControlFd != noFd {
			_, err := control.Poll(cfg.ControlFd, cfg.Filtered)
			if err != nil {
				if errors.Is(err, control.ErrClosed) {
					rlog.L.Info().Msg("proxy: control channel closed, accept loop returning")
					return nil
				}
				return fmt.Errorf("proxy: control channel error: %w", err)
			}
		}

		clientFd, _, err := unix.Accept(cfg.ListenFd)
		if err == nil {
			go handleConn(clientFd, cfg)
			continue
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return fmt.Errorf("proxy: accept failed: %w", err)
		}

		if _, err := selectReady([]int{cfg.ListenFd, cfg.ControlFd, cfg.LivenessFd}); err != nil {
			return fmt.Errorf("proxy: select failed: %w", err)
		}
	}
}

// handleConn owns one accepted client connection for its whole lifetime:
// dial the upstream display, learn the peer's PID, relay until either side
// errors or closes, then clean up both fds. Never returns an error; any
// failure here just ends this one connection.
func handleConn(clientFd int, cfg Config) {
	defer unix.Close(clientFd)

	if err := unix.SetNonblock(clientFd, true); err != nil {
		rlog.L.Warn().Err(err).Msg("proxy: failed to set client socket non-blocking")
		return
	}

	serverFd, err := socketmgr.DialUpstream(cfg.UpstreamPath)
	if err != nil {
		rlog.L.Warn().Err(err).Msg("proxy: failed to dial upstream display")
		return
	}
	defer unix.Close(serverFd)

	if err := unix.SetNonblock(serverFd, true); err != nil {
		rlog.L.Warn().Err(err).Msg("proxy: failed to set server socket non-blocking")
		return
	}

	pid := peerPID(clientFd)
	rlog.L.Debug().Int32("peer_pid", pid).Msg("proxy: accepted client connection")

	if err := relay(clientFd, serverFd, pid, cfg); err != nil && !errors.Is(err, io.EOF) {
		rlog.L.Debug().Err(err).Int32("peer_pid", pid).Msg("proxy: worker exiting")
	}
}

// relay is the per-connection loop: read client, filter and forward if the
// peer is currently a member of the filtered set, read server, forward
// verbatim, then suspend until there's more to do. Membership is
// re-checked on every pass rather than cached, so a PID toggled mid-session
// takes effect on the next slice.
func relay(clientFd, serverFd int, pid int32, cfg Config) error {
	buf := make([]byte, readBufSize)

	for {
		n, err := unix.Read(clientFd, buf)
		switch {
		case err == nil && n > 0:
			if cfg.Filtered.Contains(pid) {
				accepted, rejected := filter.Filter(buf[:n], cfg.Engine)
				if len(rejected) > 0 {
					if derr := cfg.Dump.Write(rejected); derr != nil {
						rlog.L.Warn().Err(derr).Msg("proxy: failed to write rejected bytes to dump file")
					}
				}
				if len(accepted) > 0 {
					if werr := writeAllNonblock(serverFd, accepted, cfg.LivenessFd); werr != nil {
						return werr
					}
				}
			} else if werr := writeAllNonblock(serverFd, buf[:n], cfg.LivenessFd); werr != nil {
				return werr
			}
		case err == nil && n == 0:
			return io.EOF
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// nothing from the client this pass
		case err == unix.EINTR:
			continue
		default:
			return err
		}

		n, err = unix.Read(serverFd, buf)
		switch {
		case err == nil && n > 0:
			if werr := writeAllNonblock(clientFd, buf[:n], cfg.LivenessFd); werr != nil {
				return werr
			}
		case err == nil && n == 0:
			return io.EOF
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// nothing from the server this pass
		case err == unix.EINTR:
			continue
		default:
			return err
		}

		ready, err := selectReady([]int{clientFd, serverFd, cfg.LivenessFd})
		if err != nil {
			return err
		}
		if cfg.LivenessFd != noFd && ready[cfg.LivenessFd] && !ready[clientFd] && !ready[serverFd] {
			// The tethered process exited and neither stream has
			// anything pending; no point spinning until one does.
			return errLivenessGone
		}
	}
}
