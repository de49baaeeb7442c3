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

// Package streambuf implements the bounded, backpressured byte-chunk queue
// that carries incoming message bodies (spec.md §4.8): the per-delivery
// readable body on the consume side, and the body of a basic.return on
// the publish side. Outgoing publish bodies do not go through it;
// PublishChannel.Publish reads them from an io.Reader. It generalizes the teacher's
// internal/zerocopy.Buffer (a single zero-copy byte window over one packet)
// into a queue of such windows with a bounded "high water mark" so the
// producer suspends instead of buffering unbounded memory.
package streambuf

import (
	"context"
	"io"
	"sync"
)

// Stream is a single-producer, single-consumer queue of byte chunks.
// Push blocks once highWaterMark chunks are in flight, giving the
// producer (the connection's read loop) natural backpressure. Read drains chunks in order and implements
// io.Reader so callers can treat a delivery's body as an ordinary stream.
type Stream struct {
	chunks chan []byte
	errc   chan error

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	pending []byte
	err     error
	eof     bool
}

// New returns a Stream whose Push blocks once highWaterMark chunks are
// queued and not yet Read. highWaterMark < 1 is treated as 1.
func New(highWaterMark int) *Stream {
	if highWaterMark < 1 {
		highWaterMark = 1
	}
	return &Stream{
		chunks: make(chan []byte, highWaterMark),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Push enqueues b, blocking until there is room, ctx is done, or the
// stream was closed. An empty b is a no-op, matching the spec's rule
// that empty body frames are ignored.
func (s *Stream) Push(ctx context.Context, b []byte) (err error) {
	if len(b) == 0 {
		return nil
	}
	// CloseWithError closes s.chunks; a send racing that close panics,
	// which is reported as a closed stream.
	defer func() {
		if recover() != nil {
			err = io.ErrClosedPipe
		}
	}()
	select {
	case s.chunks <- b:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the stream complete with no error; subsequent Reads drain
// whatever was queued, then return io.EOF.
func (s *Stream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError marks the stream complete; a non-nil err is returned by
// Read once the queued chunks are drained, instead of io.EOF.
func (s *Stream) CloseWithError(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.chunks)
		close(s.closed)
	})
}

// Read implements io.Reader over the queued chunks.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.eof {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	s.mu.Unlock()

	for len(s.pending) == 0 {
		chunk, ok := <-s.chunks
		if !ok {
			s.mu.Lock()
			s.eof = true
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		s.pending = chunk
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
