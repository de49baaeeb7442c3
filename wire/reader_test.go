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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderShortBufferError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadUint32("field")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field")
	assert.Contains(t, err.Error(), "short buffer")
}

func TestReaderTimestampRejectsFarFuture(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	ts, err := r.ReadTimestamp("ts")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	over := NewFixedWriter(make([]byte, 8))
	over.WriteUint64(maxTimestampSeconds + 1)
	_, err = NewReader(over.Bytes()).ReadTimestamp("ts")
	assert.Error(t, err)
}

func TestReadBinaryAliasesBackingArray(t *testing.T) {
	w := NewFixedWriter(make([]byte, 16))
	w.WriteBinary([]byte{0xAA, 0xBB, 0xCC})
	b, err := NewReader(w.Bytes()).ReadBinary("payload")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, b)

	w.Bytes()[4] = 0x11 // first payload byte, after the 4-octet length
	assert.Equal(t, byte(0x11), b[0])
}

func TestReadRemaining(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	_, _ = r.ReadUint16("skip")
	rest := r.ReadRemaining()
	assert.Equal(t, []byte{3, 4, 5}, rest)
	assert.Equal(t, 0, r.Len())
}

func TestSplitMethodID(t *testing.T) {
	id := MethodID(60, 40)
	classID, methodID := SplitMethodID(id)
	assert.Equal(t, uint16(60), classID)
	assert.Equal(t, uint16(40), methodID)
}
