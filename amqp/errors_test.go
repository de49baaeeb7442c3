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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReasonErrorClassifiesKind(t *testing.T) {
	soft := newReasonError("not_found", "queue missing")
	assert.Equal(t, KindSoft, soft.Kind)
	assert.Equal(t, uint16(404), soft.ReplyCode)

	hard := newReasonError("command_invalid", "bad method")
	assert.Equal(t, KindHard, hard.Kind)
	assert.Equal(t, uint16(503), hard.ReplyCode)
}

func TestCloseOKError(t *testing.T) {
	e := closeOKError()
	assert.Equal(t, KindLocal, e.Kind)
	assert.Equal(t, uint16(200), e.ReplyCode)
	assert.Equal(t, "buy!", e.ReplyText)
}

func TestFromWireClassifiesByReplyCode(t *testing.T) {
	e := fromWire(504, "channel error", 60, 40, "Basic.Publish")
	assert.Equal(t, KindHard, e.Kind)
	assert.Equal(t, uint32(60)<<16|40, e.MethodID)
	assert.Equal(t, "Basic.Publish", e.MethodName)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := newTransportError(cause)
	assert.Equal(t, KindTransport, e.Kind)
	assert.ErrorIs(t, e, cause)
}

func TestErrorMessageIncludesMethodWhenPresent(t *testing.T) {
	e := &Error{Kind: KindSoft, MethodName: "Queue.Declare", ReplyCode: 404, ReplyText: "not found"}
	assert.Contains(t, e.Error(), "Queue.Declare")

	bare := &Error{Kind: KindLocal, ReplyCode: 0, ReplyText: "bad arg"}
	assert.NotContains(t, bare.Error(), "method=")
}
