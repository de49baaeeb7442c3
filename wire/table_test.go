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

func TestTableRoundTrip(t *testing.T) {
	in := Table{
		{Key: "str", Value: "hello"},
		{Key: "flag", Value: true},
		{Key: "count", Value: uint32(7)},
		{Key: "big", Value: int64(1 << 40)},
		{Key: "nested", Value: Table{{Key: "inner", Value: "x"}}},
		{Key: "list", Value: []any{int64(1), int64(2)}},
		{Key: "empty", Value: Void{}},
	}

	w := NewGrowableWriter("table-test")
	defer w.Release()
	require.NoError(t, w.WriteTable("args", in))

	out, err := NewReader(w.Bytes()).ReadTable("args")
	require.NoError(t, err)
	require.Len(t, out, len(in))

	v, ok := out.Get("str")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	v, ok = out.Get("big")
	require.True(t, ok)
	assert.Equal(t, int64(1<<40), v)

	v, ok = out.Get("nested")
	require.True(t, ok)
	inner := v.(Table)
	iv, ok := inner.Get("inner")
	require.True(t, ok)
	assert.Equal(t, "x", iv)
}

func TestTableValueTagInt64Canonicalization(t *testing.T) {
	// Go's int64/int always encode with tag 'l', never 'L', but both tags
	// must decode identically.
	w := NewFixedWriter(make([]byte, 32))
	w.WriteUint8(tagInt64L)
	w.WriteInt64(42)
	v, err := NewReader(w.Bytes()).readTableValue("x")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	w2 := NewGrowableWriter("tag-test")
	defer w2.Release()
	require.NoError(t, w2.writeTableValue("x", int64(42)))
	assert.Equal(t, uint8(tagInt64l), w2.Bytes()[0])
}

func TestWriteTableRejectsBadKey(t *testing.T) {
	w := NewGrowableWriter("bad-key")
	defer w.Release()
	err := w.WriteTable("args", Table{{Key: "1bad", Value: "x"}})
	assert.Error(t, err)
}

func TestTableDecodeIntoStruct(t *testing.T) {
	type serverProps struct {
		Product string `amqp:"product"`
		Version string `amqp:"version"`
	}
	t1 := Table{{Key: "product", Value: "RabbitMQ"}, {Key: "version", Value: "3.12"}}
	var out serverProps
	require.NoError(t, t1.Decode(&out))
	assert.Equal(t, "RabbitMQ", out.Product)
	assert.Equal(t, "3.12", out.Version)
}

func TestWriteTableValueUnsupportedType(t *testing.T) {
	w := NewGrowableWriter("unsupported")
	defer w.Release()
	err := w.writeTableValue("x", struct{}{})
	assert.Error(t, err)
}
