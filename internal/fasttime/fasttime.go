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

// Package fasttime caches the current unix second behind an atomic,
// giving callers a clock read without a syscall wherever second-level
// resolution is enough (diagnostic timestamps, not liveness deadlines
// with a sub-second margin). Adapted verbatim from the teacher's
// internal/fasttime.
package fasttime

import (
	"sync/atomic"
	"time"
)

func init() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for tm := range ticker.C {
			atomic.StoreInt64(&currentTimestamp, tm.Unix())
		}
	}()
}

var currentTimestamp = time.Now().Unix()

// UnixTimestamp returns the current unix second, updated once per second.
func UnixTimestamp() int64 {
	return atomic.LoadInt64(&currentTimestamp)
}
