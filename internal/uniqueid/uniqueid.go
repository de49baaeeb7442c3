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

// Package uniqueid generates monotonically ordered keys used to break ties
// between overlapping waiters registered against the same reply method id
// (spec.md §3 UniqueId, §4.5 call_api).
package uniqueid

import (
	"sync"
)

// ID orders by (Millis, Seq); the oldest waiter on a given reply id sorts
// first. Only relative order within a process matters, never absolute
// wall-clock accuracy across restarts.
type ID struct {
	Millis int64
	Seq    int64
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	if id.Millis != other.Millis {
		return id.Millis < other.Millis
	}
	return id.Seq < other.Seq
}

// Factory hands out strictly increasing IDs. nowMillis is injected so tests
// can drive the clock deterministically instead of racing real time.
type Factory struct {
	mu        sync.Mutex
	nowMillis func() int64
	lastMs    int64
	seq       int64
}

// NewFactory returns a Factory that reads the wall clock via nowMillis.
func NewFactory(nowMillis func() int64) *Factory {
	return &Factory{nowMillis: nowMillis}
}

// Next returns the next ID, incrementing Seq when two calls land in the
// same millisecond and resetting it otherwise.
func (f *Factory) Next() ID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ms := f.nowMillis()
	if ms == f.lastMs {
		f.seq++
	} else {
		f.lastMs = ms
		f.seq = 0
	}
	return ID{Millis: ms, Seq: f.seq}
}
