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

	"github.com/valyala/bytebufferpool"

	"github.com/streamqp/amqp/internal/bufpool"
)

// growIncrement is the chunk size a growable Writer expands by, per
// spec.md §4.1 ("grows in 1024-byte increments plus requested size").
const growIncrement = 1024

// Writer is an appending cursor over a byte buffer. A fixed Writer panics
// on overflow (the caller mis-sized the buffer, a programmer error); a
// growable Writer backed by internal/bufpool extends itself on demand.
// Frame-shaped helpers (MethodStart, HeaderStart, Heartbeat, FrameEnd,
// SetFrameLength) implement the envelope described in spec.md §3/§4.1.
type Writer struct {
	owner    string
	pooled   *bytebufferpool.ByteBuffer
	buf      []byte
	off      int
	growable bool

	// lenFieldOffset marks where SetFrameLength should backfill the
	// payload-size octets once the method body has been written.
	lenFieldOffset int
}

// NewFixedWriter wraps a preallocated buffer of the exact required size.
func NewFixedWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// NewGrowableWriter returns a Writer backed by a pooled buffer, grown in
// growIncrement-sized steps as needed. owner shards the pool (typically
// the connection's remote address) to reduce contention across connections.
func NewGrowableWriter(owner string) *Writer {
	pooled := bufpool.Acquire(owner)
	return &Writer{owner: owner, pooled: pooled, growable: true}
}

// Release returns a growable Writer's buffer to its pool. No-op on a
// fixed Writer.
func (w *Writer) Release() {
	if w.pooled != nil {
		bufpool.Release(w.owner, w.pooled)
		w.pooled = nil
	}
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte {
	if w.growable {
		return w.pooled.B
	}
	return w.buf[:w.off]
}

// Offset returns the current write offset.
func (w *Writer) Offset() int {
	if w.growable {
		return len(w.pooled.B)
	}
	return w.off
}

func (w *Writer) grow(n int) {
	if w.growable {
		if b := w.pooled.B; cap(b)-len(b) < n {
			nb := make([]byte, len(b), cap(b)+growIncrement+n)
			copy(nb, b)
			w.pooled.B = nb
		}
		return
	}
	if w.off+n > len(w.buf) {
		panic("wire: fixed writer overflow")
	}
}

func (w *Writer) write(p []byte) {
	w.grow(len(p))
	if w.growable {
		w.pooled.Write(p)
		return
	}
	copy(w.buf[w.off:], p)
	w.off += len(p)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.write([]byte{1})
		return
	}
	w.write([]byte{0})
}

func (w *Writer) WriteUint8(v uint8) { w.write([]byte{v}) }
func (w *Writer) WriteInt8(v int8)   { w.WriteUint8(uint8(v)) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.write(b[:])
}
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.write(b[:])
}
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.write(b[:])
}
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteShortString writes a u8-length-prefixed string. Callers must
// validate len(s) <= 255 beforehand (see Length assertion helper).
func (w *Writer) WriteShortString(s string) {
	w.WriteUint8(uint8(len(s)))
	w.write([]byte(s))
}

// WriteLongString writes a u32-length-prefixed string.
func (w *Writer) WriteLongString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.write([]byte(s))
}

// WriteBinary writes a u32-length-prefixed opaque byte slice.
func (w *Writer) WriteBinary(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.write(b)
}

// WriteTimestamp writes seconds-since-epoch as u64.
func (w *Writer) WriteTimestamp(sec int64) {
	w.WriteUint64(uint64(sec))
}

// WriteDecimal writes a scaled decimal value.
func (w *Writer) WriteDecimal(d Decimal) {
	w.WriteUint8(d.Scale)
	w.WriteUint32(d.Unscaled)
}

// WriteRaw appends p verbatim, growing a growable writer as needed.
func (w *Writer) WriteRaw(p []byte) { w.write(p) }

// MethodStart writes the 7-octet frame header plus the 4-octet method id,
// leaving the cursor at the first argument octet. payloadSize is the
// already-known payload length for a fixed writer, or 0 for a growable
// writer whose length SetFrameLength will backfill later.
func (w *Writer) MethodStart(channel uint16, payloadSize uint32, methodID uint32) {
	w.WriteUint8(FrameMethod)
	w.WriteUint16(channel)
	w.WriteUint32(payloadSize)
	w.lenFieldOffset = w.Offset() - 4
	w.WriteUint32(methodID)
}

// HeaderStart writes a content-header frame's envelope plus the fixed
// class_id/weight/body_size fields, leaving the cursor at property_flags.
func (w *Writer) HeaderStart(channel uint16, payloadSize uint32, classID uint16, bodySize uint64) {
	w.WriteUint8(FrameHeader)
	w.WriteUint16(channel)
	w.WriteUint32(payloadSize)
	w.lenFieldOffset = w.Offset() - 4
	w.WriteUint16(classID)
	w.WriteUint16(0) // weight, always 0
	w.WriteUint64(bodySize)
}

// BodyStart writes a body-content frame's envelope, leaving the cursor
// ready for the raw body bytes.
func (w *Writer) BodyStart(channel uint16, payloadSize uint32) {
	w.WriteUint8(FrameBody)
	w.WriteUint16(channel)
	w.WriteUint32(payloadSize)
	w.lenFieldOffset = w.Offset() - 4
}

// Heartbeat writes a complete 8-octet heartbeat frame (no payload).
func (w *Writer) Heartbeat() {
	w.WriteUint8(FrameHeartbeat)
	w.WriteUint16(0)
	w.WriteUint32(0)
	w.FrameEnd()
}

// FrameEnd appends the 0xCE terminator.
func (w *Writer) FrameEnd() {
	w.WriteUint8(FrameEnd)
}

// SetFrameLength backfills the payload-size field recorded by the last
// *Start call with the number of bytes written since, less the trailing
// 0xCE, for writers whose payload size wasn't known up front
// (dynamic/growable writers). Call it after FrameEnd.
func (w *Writer) SetFrameLength() {
	payloadLen := uint32(w.Offset() - (w.lenFieldOffset + 4) - 1)
	b := w.Bytes()
	binary.BigEndian.PutUint32(b[w.lenFieldOffset:w.lenFieldOffset+4], payloadLen)
}
