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

// Package bufpool supplies pooled, growable buffers to the frame writer
// (wire.Writer). The teacher's decoder packages (protocol/pamqp,
// protocol/phttp2, protocol/phttp) all call out to an internal/bufpool
// with this same Acquire/Release shape; this is that package, re-homed
// from read-side decode buffers onto write-side frame-encode buffers and
// sharded by owning connection so concurrent connections do not contend
// on one pool.
package bufpool

import (
	"github.com/cespare/xxhash/v2"
	"github.com/valyala/bytebufferpool"
)

const shardCount = 16

var shards [shardCount]bytebufferpool.Pool

func shardFor(owner string) *bytebufferpool.Pool {
	if owner == "" {
		return &shards[0]
	}
	h := xxhash.Sum64String(owner)
	return &shards[h%shardCount]
}

// Acquire returns a reset *bytebufferpool.ByteBuffer from the shard keyed
// by owner (typically the connection's remote address), ready to be grown
// with Write.
func Acquire(owner string) *bytebufferpool.ByteBuffer {
	return shardFor(owner).Get()
}

// Release returns buf to its owner's shard. Never use buf after Release.
func Release(owner string, buf *bytebufferpool.ByteBuffer) {
	shardFor(owner).Put(buf)
}
