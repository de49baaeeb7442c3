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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNotNull(t *testing.T) {
	assert.NoError(t, AssertNotNull("queue", "orders"))
	assert.Error(t, AssertNotNull("queue", ""))
}

func TestAssertLength(t *testing.T) {
	assert.NoError(t, AssertLength("queue", strings.Repeat("a", 127)))
	assert.Error(t, AssertLength("queue", strings.Repeat("a", 128)))
}

func TestAssertName(t *testing.T) {
	assert.NoError(t, AssertName("exchange", "orders.created-v1"))
	assert.Error(t, AssertName("exchange", "bad name with spaces"))
}

func TestAssertTableKey(t *testing.T) {
	assert.NoError(t, AssertTableKey("headers", "x_match"))
	assert.Error(t, AssertTableKey("headers", "1-leading-digit"))
}

func TestAssertLEIsNoOp(t *testing.T) {
	// Documented no-op (see DESIGN.md): no exercised field needs it yet.
	assert.NoError(t, AssertLE("priority", 9, 0))
}
