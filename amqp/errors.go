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

import "fmt"

// Kind classifies an Error per spec.md §7.
type Kind int

const (
	// KindLocal is raised synchronously at the call site: bad argument,
	// a failed encode-time assertion, invalid priority. Never touches the
	// wire.
	KindLocal Kind = iota
	// KindSoft corresponds to a channel-level reply code; only the
	// channel that raised or received it is destroyed.
	KindSoft
	// KindHard corresponds to a connection-level reply code; the whole
	// connection is destroyed after attempting a graceful close.
	KindHard
	// KindTransport wraps a socket read/write failure, escalated as a
	// hard error with reply code internal_error.
	KindTransport
	// KindTimeout covers the connection-timeout and heartbeat-timeout
	// cases, both escalated as connection_forced hard errors.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindSoft:
		return "soft"
	case KindHard:
		return "hard"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// reasonCodes is the fixed table spec.md §6/§7 describes for mapping an
// internal HardError/SoftError reason keyword to its reply code.
var reasonCodes = map[string]uint16{
	"content_too_large": 311,
	"no_route":          312,
	"no_consumers":      313,
	"access_refused":    403,
	"not_found":         404,
	"resource_locked":   405,
	"precondition_failed": 406,

	"connection_forced": 320,
	"invalid_path":      402,
	"frame_error":       501,
	"syntax_error":      502,
	"command_invalid":   503,
	"channel_error":     504,
	"unexpected_frame":  505,
	"resource_error":    506,
	"not_allowed":       530,
	"not_implemented":   540,
	"internal_error":    541,
}

var softCodes = map[uint16]bool{311: true, 312: true, 313: true, 403: true, 404: true, 405: true, 406: true}
var hardCodes = map[uint16]bool{320: true, 402: true, 501: true, 502: true, 503: true, 504: true, 505: true, 506: true, 530: true, 540: true, 541: true}

// Error is the user-visible failure shape of spec.md §7:
// {method_name, method_id, reply_code, reply_text, data?}.
type Error struct {
	Kind       Kind
	MethodName string
	MethodID   uint32
	ReplyCode  uint16
	ReplyText  string
	Data       any
	Cause      error
}

func (e *Error) Error() string {
	if e.MethodName != "" {
		return fmt.Sprintf("amqp %s error: %s (code=%d, method=%s)", e.Kind, e.ReplyText, e.ReplyCode, e.MethodName)
	}
	return fmt.Sprintf("amqp %s error: %s (code=%d)", e.Kind, e.ReplyText, e.ReplyCode)
}

func (e *Error) Unwrap() error { return e.Cause }

// newReasonError builds an *Error from one of the fixed reason keywords
// in reasonCodes, classifying Hard vs Soft from the code tables of
// spec.md §6, defaulting to KindLocal for reasons never sent on the wire.
func newReasonError(reason, text string) *Error {
	code := reasonCodes[reason]
	kind := KindLocal
	switch {
	case hardCodes[code]:
		kind = KindHard
	case softCodes[code]:
		kind = KindSoft
	}
	return &Error{Kind: kind, ReplyCode: code, ReplyText: text}
}

// closeOKError is what a local close() with no application error sends:
// spec.md §6 "closing with null error sends {code:200, text:'buy!'}".
func closeOKError() *Error {
	return &Error{Kind: KindLocal, ReplyCode: 200, ReplyText: "buy!"}
}

func newTransportError(cause error) *Error {
	return &Error{Kind: KindTransport, ReplyCode: reasonCodes["internal_error"], ReplyText: cause.Error(), Cause: cause}
}

func newTimeoutError(text string) *Error {
	return &Error{Kind: KindTimeout, ReplyCode: reasonCodes["connection_forced"], ReplyText: text}
}

// fromWire turns a broker-sent close/close-ok (reply_code, reply_text,
// class_id, method_id) into the matching *Error, spec.md §7's
// "translated into an error of the same (code, text, method_id)".
func fromWire(code uint16, text string, classID, methodIDField uint16, methodName string) *Error {
	kind := KindLocal
	switch {
	case hardCodes[code]:
		kind = KindHard
	case softCodes[code]:
		kind = KindSoft
	}
	return &Error{
		Kind:       kind,
		MethodName: methodName,
		MethodID:   uint32(classID)<<16 | uint32(methodIDField),
		ReplyCode:  code,
		ReplyText:  text,
	}
}
