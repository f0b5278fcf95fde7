// dump.go - Optional rejected-byte dump sink.
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

// Package dump writes the bytes the filter pipeline rejected to an
// optional file, for later offline analysis. It is never consulted by the
// policy decision itself - purely a logging sink.
package dump

import (
	"os"
	"sync"
)

// File is a mutex-guarded append sink. Multiple worker goroutines may
// share one File; writes never interleave.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates (or truncates) path for writing. A zero-value *File (nil
// path) is valid to use as a no-op sink via Write.
func Open(path string) (*File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Write appends b to the dump file. Called on a nil *File, it's a no-op -
// this lets callers skip a "dump enabled" branch at every call site.
func (d *File) Write(b []byte) error {
	if d == nil || d.f == nil || len(b) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.Write(b)
	return err
}

// Close closes the underlying file, if any.
func (d *File) Close() error {
	if d == nil || d.f == nil {
		return nil
	}
	return d.f.Close()
}
