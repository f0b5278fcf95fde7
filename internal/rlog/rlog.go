// rlog.go - Process-wide structured logging.
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

// Package rlog is the one process-global this repository allows itself:
// a zerolog sink, configured once at startup. Every other piece of shared
// state (the filtered-PID set, the dump file, the cleanup registry) is
// passed explicitly through constructors instead.
package rlog

import (
	"os"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. Setup replaces it; until Setup is called
// it logs at info level to stderr, so packages used from tests don't need
// to call Setup first.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger().Level(zerolog.InfoLevel)

// Setup configures L's level from levelName ("debug", "info", "warn",
// "error", ...; empty or unrecognized falls back to "info"), honoring the
// same RUST_LOG/RUSTYWIN_LOG convention the rest of this lineage uses for
// its other tools.
func Setup(levelName string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(level)
}

// LevelFromEnv returns RUSTYWIN_LOG if set, else RUST_LOG, else "info".
func LevelFromEnv() string {
	if v := os.Getenv("RUSTYWIN_LOG"); v != "" {
		return v
	}
	if v := os.Getenv("RUST_LOG"); v != "" {
		return v
	}
	return "info"
}
