// registry.go - Cleanup registry for shadow X11 sockets.
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

package socketmgr

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/gcp/rustywin/internal/rlog"
)

// DefaultRegistryName is the cleanup registry's filename within the
// invoking user's home directory.
const DefaultRegistryName = ".rustywin_sockets"

type registryEntry struct {
	pid  int
	path string
}

// cleanupRegistry performs the startup read-modify-write pass: lines whose
// PID no longer names a live process have their socket unlinked and are
// dropped; the rest are preserved. The whole operation runs under an
// exclusive advisory lock on path to prevent a TOCTOU race against a
// concurrently starting instance.
//
// Failure to lock or rewrite the registry is logged and otherwise ignored
// - at worst a socket file is leaked, which is not fatal to this run.
func cleanupRegistry(path string) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		rlog.L.Warn().Err(err).Str("path", path).Msg("socketmgr: failed to open cleanup registry")
		return
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		rlog.L.Warn().Err(err).Str("path", path).Msg("socketmgr: failed to lock cleanup registry")
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	entries, err := parseRegistry(f)
	if err != nil {
		rlog.L.Warn().Err(err).Str("path", path).Msg("socketmgr: failed to parse cleanup registry")
		return
	}

	var survivors []registryEntry
	for _, e := range entries {
		if processAlive(e.pid) {
			survivors = append(survivors, e)
			continue
		}
		rlog.L.Info().Int("pid", e.pid).Str("socket", e.path).Msg("socketmgr: reclaiming dead peer's socket")
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			rlog.L.Warn().Err(err).Str("socket", e.path).Msg("socketmgr: failed to unlink stale socket")
			survivors = append(survivors, e)
		}
	}

	if err := rewriteRegistry(f, survivors); err != nil {
		rlog.L.Warn().Err(err).Str("path", path).Msg("socketmgr: failed to rewrite cleanup registry")
	}
}

// processAlive reports whether pid names a live process, per POSIX
// kill(pid, 0) semantics: success (including EPERM, meaning it exists but
// we can't signal it) means alive; ESRCH means dead.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}

func parseRegistry(f *os.File) ([]registryEntry, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	var entries []registryEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			rlog.L.Warn().Str("line", line).Msg("socketmgr: ignoring malformed registry line")
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			rlog.L.Warn().Str("line", line).Msg("socketmgr: ignoring registry line with bad pid")
			continue
		}
		entries = append(entries, registryEntry{pid: pid, path: fields[1]})
	}
	return entries, scanner.Err()
}

func rewriteRegistry(f *os.File, entries []registryEntry) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d %s\n", e.pid, e.path); err != nil {
			return err
		}
	}
	return w.Flush()
}

// registerForCleanup appends a "pid path" line to the registry at path,
// under an exclusive lock, creating the file if necessary.
func registerForCleanup(path string, pid int, socketPath string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		rlog.L.Warn().Err(err).Str("path", path).Msg("socketmgr: failed to lock cleanup registry for append")
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	_, err = fmt.Fprintf(f, "%d %s\n", pid, socketPath)
	return err
}
