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

package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, DefaultPortPlain, cfg.Port)
	assert.Equal(t, []string{"AMQPLAIN", "PLAIN"}, cfg.AuthMechanism)
	assert.Equal(t, 60*time.Second, cfg.DialTimeout)
}

func TestConfigFromMapOverridesDefaults(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{
		"host":     "broker.internal",
		"port":     5673,
		"username": "svc",
		"password": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "broker.internal", cfg.Host)
	assert.Equal(t, 5673, cfg.Port)
	assert.Equal(t, "svc", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	// untouched keys keep their default
	assert.Equal(t, "/", cfg.VHost)
}

func TestConfigFromMapCoercesConnectionTimeoutMillis(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{"connection_timeout": 5000})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestConfigFromMapRejectsUnparseablePort(t *testing.T) {
	_, err := ConfigFromMap(map[string]any{"port": "not-a-port"})
	assert.Error(t, err)
}
