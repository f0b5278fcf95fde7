// main.go - rustywin entry point.
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

// Command rustywin is a filtering proxy for the X11 display protocol: it
// stands up a shadow Unix-domain display socket, relays traffic to the
// real display server, and selectively drops requests from filtered peers.
//
// Usage:
//
//	rustywin <target> [args...]   spawn target with DISPLAY set to the shadow display
//	rustywin --fd <N>             use fd N as a supervisor control channel instead
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/gcp/rustywin/internal/control"
	"github.com/gcp/rustywin/internal/display"
	"github.com/gcp/rustywin/internal/dump"
	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/proxy"
	"github.com/gcp/rustywin/internal/rlog"
	"github.com/gcp/rustywin/internal/socketmgr"
	"github.com/gcp/rustywin/internal/spawn"
)

func main() {
	os.Exit(run())
}

// validateArgs enforces that exactly one of a control fd or a target
// command line was given.
func validateArgs(controlFd int, args []string) error {
	if controlFd >= 0 && len(args) > 0 {
		return fmt.Errorf("rustywin: --fd and a target are mutually exclusive")
	}
	if controlFd < 0 && len(args) == 0 {
		return fmt.Errorf("usage: rustywin <target> [args...] | rustywin --fd <N>")
	}
	return nil
}

func run() int {
	controlFd := pflag.Int("fd", -1, "use fd N as a supervisor control channel instead of spawning a target")
	dumpPath := pflag.String("dump", "", "optional path to dump rejected request bytes to")
	registryPath := pflag.String("registry", "", "override the cleanup registry file name, resolved under $HOME (default .rustywin_sockets)")
	pflag.Parse()

	rlog.Setup(rlog.LevelFromEnv())

	args := pflag.Args()
	if err := validateArgs(*controlFd, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	rawDisplay := os.Getenv("DISPLAY")
	if rawDisplay == "" {
		rlog.L.Error().Msg("rustywin: DISPLAY is not set")
		return 1
	}
	desc, err := display.Parse(rawDisplay)
	if err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to parse DISPLAY")
		return 1
	}
	if !desc.IsLocal() {
		rlog.L.Warn().Str("display", rawDisplay).Msg("rustywin: DISPLAY is not local, nothing to filter")
		return 0
	}

	home, err := os.UserHomeDir()
	if err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to determine home directory")
		return 1
	}

	plan, err := socketmgr.Setup(home, *registryPath, desc.ServerNum)
	if err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to allocate shadow display")
		return 1
	}
	defer socketmgr.Cleanup(plan)

	listenFd, err := socketmgr.ListenShadow(plan)
	if err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to bind shadow socket")
		return 1
	}
	defer os.NewFile(uintptr(listenFd), "shadow-listener").Close()

	dumpFile, err := dump.Open(*dumpPath)
	if err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to open dump file")
		return 1
	}
	defer dumpFile.Close()

	cfg := proxy.Config{
		ListenFd:     listenFd,
		UpstreamPath: plan.UpstreamSocketPath,
		ControlFd:    -1,
		LivenessFd:   -1,
		Filtered:     control.NewFilteredPIDs(),
		Engine:       policy.DefaultEngine(),
		Dump:         dumpFile,
	}

	rlog.L.Info().Str("shadow_display", plan.ShadowDisplay).Str("shadow_socket", plan.ShadowSocketPath).Msg("rustywin: ready")

	if *controlFd >= 0 {
		return runControlFdMode(cfg, *controlFd, plan)
	}
	return runSpawnMode(cfg, args, plan)
}

// runSpawnMode spawns the target with DISPLAY pointed at the shadow
// display, runs the accept loop alongside it, and exits once the target
// does. The accept loop's own termination is not waited on: once the
// target is gone there's nothing left to filter for.
func runSpawnMode(cfg proxy.Config, args []string, plan *socketmgr.Plan) int {
	target, err := spawn.Launch(args[0], args[1:], plan.ShadowDisplay)
	if err != nil {
		rlog.L.Error().Err(err).Str("target", args[0]).Msg("rustywin: failed to launch target")
		return 1
	}
	cfg.LivenessFd = target.LivenessFd()

	go func() {
		if err := proxy.Run(cfg); err != nil {
			rlog.L.Warn().Err(err).Msg("rustywin: accept loop exited")
		}
	}()

	target.Wait()
	rlog.L.Info().Msg("rustywin: target exited, shutting down")
	return 0
}

// runControlFdMode announces the shadow display on the control channel and
// runs the accept loop in the foreground; it returns once the supervisor
// closes its end.
func runControlFdMode(cfg proxy.Config, fd int, plan *socketmgr.Plan) int {
	if err := control.SetNonblocking(fd); err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: failed to set control fd non-blocking")
		return 1
	}
	control.AnnounceDisplay(fd, plan.ShadowDisplay)
	cfg.ControlFd = fd

	if err := proxy.Run(cfg); err != nil {
		rlog.L.Error().Err(err).Msg("rustywin: accept loop failed")
		return 1
	}
	return 0
}
