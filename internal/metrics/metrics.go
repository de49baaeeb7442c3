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

// Package metrics exposes the client's prometheus instrumentation,
// grounded on the teacher's controller/metrics.go (promauto-registered
// counters/gauges under one namespace), re-homed from packet-capture
// counters onto connection/frame/channel counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streamqp"

var (
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the wire, by frame kind.",
		},
		[]string{"kind"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read off the wire, by frame kind.",
		},
		[]string{"kind"},
	)

	HeartbeatMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_misses_total",
			Help:      "Connections destroyed for missing too many heartbeats.",
		},
	)

	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "Currently open channels across all connections.",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently established connections.",
		},
	)
)

// FrameKindLabel maps a wire frame kind byte to the label value the
// metrics above use, avoiding a high-cardinality numeric label.
func FrameKindLabel(kind uint8) string {
	switch kind {
	case 1:
		return "method"
	case 2:
		return "header"
	case 3:
		return "body"
	case 8:
		return "heartbeat"
	default:
		return "unknown"
	}
}
