// spawn.go - Target process spawning.
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

// Package spawn launches the proxy's target process with its DISPLAY
// pointed at the shadow socket, and exposes the liveness fd (the child's
// stderr) the proxy loop selects on to detect the child's exit.
package spawn

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/gcp/rustywin/internal/rlog"
)

// Target is a running target process.
type Target struct {
	cmd       *exec.Cmd
	stderr    *os.File
	termHooks []func()
}

func (t *Target) onExit() {
	for _, fn := range t.termHooks {
		fn()
	}
	t.termHooks = nil
}

// AddTermHook registers fn to run once, when the target process exits.
func (t *Target) AddTermHook(fn func()) {
	t.termHooks = append(t.termHooks, fn)
}

// LivenessFd returns the file descriptor the proxy loop should include in
// its select() interest set to learn when the target has exited: readable
// once the child closes (or is killed, closing its inherited stderr pipe).
func (t *Target) LivenessFd() int {
	return int(t.stderr.Fd())
}

// Wait blocks until the target exits, then runs any registered term hooks.
// The child's exit status isn't propagated to our own.
func (t *Target) Wait() {
	_, _ = t.cmd.Process.Wait()
	t.onExit()
}

// Kill terminates the target process.
func (t *Target) Kill() {
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_, _ = t.cmd.Process.Wait()
	}
	t.onExit()
}

// Launch starts exe with args, setting DISPLAY=shadowDisplay in its
// environment. The child's stderr is piped back so its read end can serve
// as the proxy's liveness fd - closing when the child exits.
func Launch(exe string, args []string, shadowDisplay string) (*Target, error) {
	rlog.L.Info().Str("exe", exe).Strs("args", args).Str("display", shadowDisplay).Msg("spawn: launching target")

	// We need a concrete, selectable fd for the child's stderr, readable
	// once the child exits - os/exec's StderrPipe hands back the read end
	// but insists on closing it itself; build the pipe by hand instead so
	// we keep the read end alive for the proxy loop's select().
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: failed to create stderr pipe: %w", err)
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+shadowDisplay)
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderrWrite

	if err := cmd.Start(); err != nil {
		stderrRead.Close()
		stderrWrite.Close()
		return nil, fmt.Errorf("spawn: failed to start %q: %w", exe, err)
	}
	stderrWrite.Close()

	return &Target{cmd: cmd, stderr: stderrRead}, nil
}
