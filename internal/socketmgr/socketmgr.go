// socketmgr.go - Shadow X11 display socket allocation.
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
// You should have received a copy of the GNU Affero License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package socketmgr allocates the shadow Unix-domain X11 socket this
// proxy listens on, and maintains the on-disk registry used to reclaim
// sockets left behind by peers that have since died.
package socketmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/rlog"
)

// listenBacklog is the pending-connection backlog passed to listen(2).
const listenBacklog = 16

// SockDir is where X11 Unix-domain display sockets live.
const SockDir = "/tmp/.X11-unix"

// Plan describes the sockets this run of the proxy uses.
type Plan struct {
	ShadowSocketPath   string
	ShadowDisplay      string
	UpstreamSocketPath string
}

// EnumerateDisplays scans SockDir for entries named "X<n>" and returns the
// set of server numbers already in use.
func EnumerateDisplays() ([]int, error) {
	return enumerateDisplaysIn(SockDir)
}

// enumerateDisplaysIn scans dir for entries named "X<n>" and returns the
// set of server numbers already in use. It's fatal for the proxy not to be
// able to read this directory: without it, there's no safe way to pick an
// unused display number.
func enumerateDisplaysIn(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("socketmgr: cannot read %s: %w", dir, err)
	}

	var nums []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "X") {
			continue
		}
		n, err := strconv.Atoi(name[1:])
		if err != nil {
			continue
		}
		rlog.L.Debug().Str("socket", name).Msg("socketmgr: existing X11 socket found")
		nums = append(nums, n)
	}
	return nums, nil
}

func nextFreeDisplay(used []int) int {
	if len(used) == 0 {
		rlog.L.Warn().Msg("socketmgr: no existing X11 display found, expected a running X server")
		return 0
	}
	max := used[0]
	for _, n := range used[1:] {
		if n > max {
			max = n
		}
	}
	return max + 1
}

// Setup performs the full startup sequence: clean the registry at
// filepath.Join(home, registryName), enumerate existing displays, pick the
// next free one, bind its socket, and register it for future cleanup.
// upstreamDisplayNum is the real X server's display number, the one the
// proxy will dial on behalf of each accepted client.
func Setup(home, registryName string, upstreamDisplayNum int) (*Plan, error) {
	return setupIn(home, registryName, upstreamDisplayNum, SockDir)
}

func setupIn(home, registryName string, upstreamDisplayNum int, sockDir string) (*Plan, error) {
	if registryName == "" {
		registryName = DefaultRegistryName
	}
	registryPath := filepath.Join(home, registryName)

	cleanupRegistry(registryPath)

	used, err := enumerateDisplaysIn(sockDir)
	if err != nil {
		return nil, err
	}

	chosen := nextFreeDisplay(used)
	shadowPath := filepath.Join(sockDir, "X"+strconv.Itoa(chosen))
	rlog.L.Info().Str("socket", shadowPath).Int("display", chosen).Msg("socketmgr: allocating shadow display")

	if err := os.Remove(shadowPath); err != nil && !os.IsNotExist(err) {
		rlog.L.Warn().Err(err).Str("socket", shadowPath).Msg("socketmgr: failed to remove stale shadow socket")
	}

	// Bind-then-close just to claim the path atomically before recording
	// it; ListenShadow does the bind the proxy loop actually accepts on.
	probeFd, err := bindListener(shadowPath)
	if err != nil {
		return nil, err
	}
	unix.Close(probeFd)

	if err := registerForCleanup(registryPath, os.Getpid(), shadowPath); err != nil {
		rlog.L.Warn().Err(err).Msg("socketmgr: failed to record shadow socket for cleanup")
	}

	return &Plan{
		ShadowSocketPath:   shadowPath,
		ShadowDisplay:      ":" + strconv.Itoa(chosen),
		UpstreamSocketPath: filepath.Join(sockDir, "X"+strconv.Itoa(upstreamDisplayNum)),
	}, nil
}

// ListenShadow (re)binds the shadow socket described by plan and returns a
// non-blocking listening fd the proxy's accept loop selects and accepts on.
func ListenShadow(plan *Plan) (int, error) {
	// Setup's probe bind leaves the socket file behind; unlink it so the
	// bind below doesn't fail with EADDRINUSE.
	if err := os.Remove(plan.ShadowSocketPath); err != nil && !os.IsNotExist(err) {
		return -1, fmt.Errorf("socketmgr: failed to remove %s before rebinding: %w", plan.ShadowSocketPath, err)
	}
	fd, err := bindListener(plan.ShadowSocketPath)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socketmgr: failed to set shadow socket non-blocking: %w", err)
	}
	return fd, nil
}

// bindListener creates a Unix-domain stream socket bound and listening at
// path.
func bindListener(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socketmgr: socket() failed: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socketmgr: failed to bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socketmgr: failed to listen on %s: %w", path, err)
	}
	return fd, nil
}

// DialUpstream connects to the real X server's Unix-domain socket at path,
// returning a connected fd.
func DialUpstream(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socketmgr: socket() failed: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socketmgr: failed to connect to upstream %s: %w", path, err)
	}
	return fd, nil
}

// Cleanup unlinks the shadow socket. Called on clean shutdown.
func Cleanup(plan *Plan) {
	if plan == nil {
		return
	}
	if err := os.Remove(plan.ShadowSocketPath); err != nil && !os.IsNotExist(err) {
		rlog.L.Warn().Err(err).Str("socket", plan.ShadowSocketPath).Msg("socketmgr: failed to unlink shadow socket on shutdown")
	}
}
