// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package amqp

import (
	"encoding/binary"

	"github.com/streamqp/amqp/wire"
)

// ProtocolMismatchError is the fatal not_implemented surfaced when the
// broker rejects our protocol header and replies with its own 8-octet
// "AMQP\0 major minor rev" instead of connection.start (spec.md §4.3).
type ProtocolMismatchError struct {
	Major, Minor, Revision byte
}

func (e *ProtocolMismatchError) Error() string {
	return "amqp: protocol version mismatch, broker supports " +
		string(rune('0'+e.Major)) + "." + string(rune('0'+e.Minor)) + "." + string(rune('0'+e.Revision))
}

// demuxer parses a connection's incoming byte stream into a sequence of
// wire.Frame values, spec.md §4.3. It is not safe for concurrent use —
// exactly one goroutine (the connection's read loop) feeds it, matching
// the single-threaded cooperative scheduling model of spec.md §5.
type demuxer struct {
	carry   []byte
	seenAny bool
}

// Feed appends a freshly read chunk to any carried-over partial frame and
// returns every complete frame it can now extract, buffering the
// remainder for the next call.
func (d *demuxer) Feed(chunk []byte) ([]wire.Frame, error) {
	first := !d.seenAny
	d.seenAny = true

	if first && len(chunk) == 8 && chunk[0] == 'A' && chunk[1] == 'M' && chunk[2] == 'Q' && chunk[3] == 'P' {
		return nil, &ProtocolMismatchError{Major: chunk[5], Minor: chunk[6], Revision: chunk[7]}
	}

	var data []byte
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
		d.carry = nil
	} else {
		data = chunk
	}

	var frames []wire.Frame
	for {
		if len(data) < 8 {
			break
		}
		kind := data[0]
		channel := binary.BigEndian.Uint16(data[1:3])
		payloadSize := binary.BigEndian.Uint32(data[3:7])
		total := 7 + int(payloadSize) + 1
		if len(data) < total {
			break
		}
		if data[total-1] != wire.FrameEnd {
			return frames, wire.ErrBadFrameEnd
		}

		payload := make([]byte, payloadSize)
		copy(payload, data[7:total-1])
		frames = append(frames, wire.Frame{Kind: kind, Channel: channel, Payload: payload})
		data = data[total:]
	}

	if len(data) > 0 {
		d.carry = append([]byte(nil), data...)
	}
	return frames, nil
}
