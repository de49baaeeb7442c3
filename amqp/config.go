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

// Package amqp implements the connection and channel state machines,
// frame demuxer, and streaming adapters of spec.md §4.3-4.8: the wire
// core of a streaming AMQP 0-9-1 client. Dialing a socket, configuring
// TLS, and parsing a config file are external collaborators (spec.md §1);
// amqp.Config is the decoded shape that glue layer hands in.
package amqp

import (
	"time"

	"github.com/elastic/go-ucfg"
	"github.com/spf13/cast"
)

// Default ports, spec.md §6.
const (
	DefaultPortPlain = 5672
	DefaultPortTLS   = 5671
)

// Config is the enumerated configuration table of spec.md §6.
type Config struct {
	Host          string        `config:"host"`
	Port          int           `config:"port"`
	VHost         string        `config:"vhost"`
	Username      string        `config:"username"`
	Password      string        `config:"password"`
	AuthMechanism []string      `config:"auth_mechanism"`
	ChannelMax    uint16        `config:"channel_max"`
	FrameMax      uint32        `config:"frame_max"`
	Heartbeat     uint16        `config:"heartbeat"` // seconds; 0 accepts the broker's proposed heartbeat
	Locale        string        `config:"locale"`
	DialTimeout   time.Duration `config:"connection_timeout"`
}

// DefaultConfig returns the table of spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          DefaultPortPlain,
		VHost:         "/",
		Username:      "guest",
		Password:      "guest",
		AuthMechanism: []string{"AMQPLAIN", "PLAIN"},
		ChannelMax:    0,
		FrameMax:      0,
		Heartbeat:     0,
		Locale:        "en_US",
		DialTimeout:   60 * time.Second,
	}
}

// ConfigFromMap decodes a loosely-typed option map into a Config seeded
// with defaults, the way the teacher's common.Options/confengine pairing
// merges a generic map into typed options: cast.ToXE for ad hoc field
// coercion at the options layer, go-ucfg.Unpack for the structured
// decode into Config itself.
func ConfigFromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := m["connection_timeout"]; ok {
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return cfg, err
		}
		m["connection_timeout"] = (time.Duration(ms) * time.Millisecond).String()
	}

	c, err := ucfg.NewFrom(m, ucfg.PathSep("."))
	if err != nil {
		return cfg, err
	}
	if err := c.Unpack(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
