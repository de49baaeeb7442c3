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

package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamqp/amqp/wire"
)

func TestPropertiesRoundTripSparse(t *testing.T) {
	in := Properties{
		"content-type": "application/json",
		"delivery-mode": uint8(2),
		"message-id":    "abc-123",
	}

	w := wire.NewGrowableWriter("props-test")
	defer w.Release()
	require.NoError(t, EncodeProperties(w, in))

	out, err := DecodeProperties(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "application/json", out.String("content-type"))
	assert.Equal(t, uint8(2), out.Uint8("delivery-mode"))
	assert.Equal(t, "abc-123", out.String("message-id"))
	_, present := out["priority"]
	assert.False(t, present)
}

func TestPropertiesRoundTripAllFields(t *testing.T) {
	in := Properties{
		"content-type":     "text/plain",
		"content-encoding": "gzip",
		"headers":          wire.Table{{Key: "x_retry", Value: int64(1)}},
		"delivery-mode":    uint8(1),
		"priority":         uint8(9),
		"correlation-id":   "corr-1",
		"reply-to":         "amq.rabbitmq.reply-to",
		"expiration":       "60000",
		"message-id":       "msg-1",
		"timestamp":        int64(1700000000),
		"type":             "order.created",
		"user-id":          "guest",
		"app-id":           "orders-service",
		"cluster-id":       "cluster-a",
	}

	w := wire.NewGrowableWriter("props-all")
	defer w.Release()
	require.NoError(t, EncodeProperties(w, in))

	out, err := DecodeProperties(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	for k, v := range in {
		if k == "headers" {
			continue
		}
		assert.Equal(t, v, out[k], "field %s", k)
	}
}

func TestPropertiesNoFieldsSetEncodesZeroFlags(t *testing.T) {
	w := wire.NewGrowableWriter("props-empty")
	defer w.Release()
	require.NoError(t, EncodeProperties(w, Properties{}))
	require.Len(t, w.Bytes(), 2)
	assert.Equal(t, []byte{0, 0}, w.Bytes())
}
