// filter.go - Stream-level X11 request filtering.
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

// Package filter drives wire.FrameOne and policy.Engine over a buffer of
// client bytes, splitting it into the bytes that may be forwarded upstream
// and the bytes that must not be.
package filter

import (
	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/rlog"
	"github.com/gcp/rustywin/internal/wire"
)

// Filter walks buf one framed request at a time, consulting engine for a
// verdict on each. It returns (accepted, rejected): freshly allocated
// slices whose concatenation order-preserves every byte of buf, with each
// complete framed request landing wholly in one or the other. A trailing
// incomplete or malformed request (or any leftover bytes once framing
// stops) lands entirely in rejected.
func Filter(buf []byte, engine *policy.Engine) (accepted, rejected []byte) {
	accepted = make([]byte, 0, len(buf))
	rejected = make([]byte, 0)

	remaining := buf
	for len(remaining) > 0 {
		req, n, err := wire.FrameOne(remaining)
		if err != nil {
			// Incomplete or malformed: nothing more can be framed out
			// of this batch, so the rest of it can't be forwarded.
			rlog.L.Debug().Err(err).Int("bytes", len(remaining)).Msg("filter: unframeable tail rejected")
			rejected = append(rejected, remaining...)
			break
		}

		decoded := wire.Decode(req)
		if _, opaque := decoded.(wire.Opaque); opaque {
			switch req.Opcode {
			case wire.OpChangeWindowAttributes, wire.OpInternAtom, wire.OpChangeProperty,
				wire.OpGetProperty, wire.OpGrabButton, wire.OpQueryExtension:
				rlog.L.Debug().Uint8("opcode", req.Opcode).Msg("filter: recognized request body failed to decode")
			}
		}
		verdict := engine.Decide(decoded)
		if verdict == policy.Deny {
			rlog.L.Debug().Uint8("opcode", req.Opcode).Msg("filter: request denied")
			rejected = append(rejected, req.Raw...)
		} else {
			accepted = append(accepted, req.Raw...)
		}

		remaining = remaining[n:]
	}

	return accepted, rejected
}
