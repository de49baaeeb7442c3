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

// Package rescue recovers from a panic in a background goroutine (the
// read loop, the heartbeat loop) instead of letting it crash the process,
// logging the stack and counting it. Adapted from the teacher's
// internal/rescue, re-homed from a generic crash handler onto
// connection-lifecycle goroutines specifically.
package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/streamqp/amqp/logger"
)

var panicTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "streamqp",
		Name:      "panic_total",
		Help:      "Panics recovered in connection background goroutines.",
	},
)

var panicHandlers = []func(any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(_ any) {
	panicTotal.Inc()
}

func logPanic(r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("observed a panic: %s\n%s", r, stacktrace)
	} else {
		logger.Errorf("observed a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// HandleCrash recovers a panic in the calling goroutine, logging and
// counting it. Callers defer it as the first statement in a goroutine
// that must survive an unexpected panic in its body.
func HandleCrash() {
	if r := recover(); r != nil {
		for _, fn := range panicHandlers {
			fn(r)
		}
	}
}
