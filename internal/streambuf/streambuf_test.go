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

package streambuf

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPushAndReadInOrder(t *testing.T) {
	s := New(4)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, []byte("hello ")))
	require.NoError(t, s.Push(ctx, []byte("world")))
	s.Close()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestStreamEmptyPushIsNoOp(t *testing.T) {
	s := New(1)
	require.NoError(t, s.Push(context.Background(), nil))
	s.Close()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamCloseWithErrorSurfacesAfterDrain(t *testing.T) {
	s := New(2)
	boom := assert.AnError
	require.NoError(t, s.Push(context.Background(), []byte("partial")))
	s.CloseWithError(boom)

	buf := make([]byte, 7)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf[:n]))

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, boom)
}

func TestStreamPushBlocksAtHighWaterMark(t *testing.T) {
	s := New(1)
	require.NoError(t, s.Push(context.Background(), []byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Push(ctx, []byte("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamPushAfterCloseFails(t *testing.T) {
	s := New(1)
	s.Close()
	err := s.Push(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestNewClampsHighWaterMarkToOne(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Push(context.Background(), []byte("x")))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Push(ctx, []byte("y")), context.DeadlineExceeded)
}
