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

package wire

import (
	"encoding/binary"
	"math"
)

// maxTimestampSeconds rejects timestamps beyond 8,640,000,000,000 seconds
// after the epoch (about year 275760), per spec.md §4.1.
const maxTimestampSeconds = 8_640_000_000_000

// Reader is an advancing-offset cursor over a byte buffer with endian-aware
// typed reads. Every method takes a path string used only to build error
// messages, mirroring the teacher's convention of naming the field that
// failed to decode (see protocol/pamqp/channel.go's decodeFieldRequests).
type Reader struct {
	b   []byte
	off int
}

// NewReader wraps b for reading. b is not copied; callers must not mutate
// it while the Reader is in use.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Offset returns the current read offset.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) need(path string, n int) error {
	if r.Len() < n {
		return newError(path, "short buffer: need %d, have %d", n, r.Len())
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

// Skip advances n bytes without interpreting them, used for the protocol
// tables' reserved fields.
func (r *Reader) Skip(path string, n int) error {
	if err := r.need(path, n); err != nil {
		return err
	}
	r.take(n)
	return nil
}

func (r *Reader) ReadBool(path string) (bool, error) {
	if err := r.need(path, 1); err != nil {
		return false, err
	}
	return r.take(1)[0] != 0, nil
}

func (r *Reader) ReadUint8(path string) (uint8, error) {
	if err := r.need(path, 1); err != nil {
		return 0, err
	}
	return r.take(1)[0], nil
}

func (r *Reader) ReadInt8(path string) (int8, error) {
	v, err := r.ReadUint8(path)
	return int8(v), err
}

func (r *Reader) ReadUint16(path string) (uint16, error) {
	if err := r.need(path, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.take(2)), nil
}

func (r *Reader) ReadInt16(path string) (int16, error) {
	v, err := r.ReadUint16(path)
	return int16(v), err
}

func (r *Reader) ReadUint32(path string) (uint32, error) {
	if err := r.need(path, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.take(4)), nil
}

func (r *Reader) ReadInt32(path string) (int32, error) {
	v, err := r.ReadUint32(path)
	return int32(v), err
}

func (r *Reader) ReadUint64(path string) (uint64, error) {
	if err := r.need(path, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.take(8)), nil
}

func (r *Reader) ReadInt64(path string) (int64, error) {
	v, err := r.ReadUint64(path)
	return int64(v), err
}

func (r *Reader) ReadFloat32(path string) (float32, error) {
	v, err := r.ReadUint32(path)
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64(path string) (float64, error) {
	v, err := r.ReadUint64(path)
	return math.Float64frombits(v), err
}

// ReadShortString reads a u8-length-prefixed UTF-8 string (<= 255 bytes).
func (r *Reader) ReadShortString(path string) (string, error) {
	n, err := r.ReadUint8(path)
	if err != nil {
		return "", err
	}
	if err := r.need(path, int(n)); err != nil {
		return "", err
	}
	return string(r.take(int(n))), nil
}

// ReadLongString reads a u32-length-prefixed UTF-8 string.
func (r *Reader) ReadLongString(path string) (string, error) {
	n, err := r.ReadUint32(path)
	if err != nil {
		return "", err
	}
	if err := r.need(path, int(n)); err != nil {
		return "", err
	}
	return string(r.take(int(n))), nil
}

// ReadBinary reads a u32-length-prefixed opaque byte slice. The returned
// slice aliases the Reader's backing array; callers that retain it across
// frame boundaries must clone it first.
func (r *Reader) ReadBinary(path string) ([]byte, error) {
	n, err := r.ReadUint32(path)
	if err != nil {
		return nil, err
	}
	if err := r.need(path, int(n)); err != nil {
		return nil, err
	}
	return r.take(int(n)), nil
}

// ReadTimestamp reads a u64 seconds-since-epoch and rejects values above
// maxTimestampSeconds per spec.md §4.1.
func (r *Reader) ReadTimestamp(path string) (int64, error) {
	v, err := r.ReadUint64(path)
	if err != nil {
		return 0, err
	}
	if v > maxTimestampSeconds {
		return 0, newError(path, "timestamp %d out of range", v)
	}
	return int64(v), nil
}

// Decimal is the AMQP 0-9-1 scaled-decimal value: Unscaled * 10^-Scale.
type Decimal struct {
	Scale    uint8
	Unscaled uint32
}

func (r *Reader) ReadDecimal(path string) (Decimal, error) {
	scale, err := r.ReadUint8(path)
	if err != nil {
		return Decimal{}, err
	}
	unscaled, err := r.ReadUint32(path)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Scale: scale, Unscaled: unscaled}, nil
}

// ReadRemaining returns every byte not yet consumed.
func (r *Reader) ReadRemaining() []byte {
	b := r.b[r.off:]
	r.off = len(r.b)
	return b
}
