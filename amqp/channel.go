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
	"context"
	"sync"

	"github.com/streamqp/amqp/internal/metrics"
	"github.com/streamqp/amqp/internal/streambuf"
	"github.com/streamqp/amqp/internal/uniqueid"
	"github.com/streamqp/amqp/logger"
	"github.com/streamqp/amqp/wire"
	"github.com/streamqp/amqp/wire/spec"
)

// streamHighWaterMark bounds how many body chunks a content stream queues
// before Push blocks, spec.md §4.8's backpressure knob.
const streamHighWaterMark = 16

// contentBearingIncoming is the set of broker-originated methods that are
// followed by a header frame and 0..N body frames: basic.return,
// basic.deliver, basic.get-ok (spec.md §4.7 and the teacher's
// classMethodNeedContentHeader table, restricted to the methods the
// broker — not the client — emits).
var contentBearingIncoming = map[uint32]bool{
	wire.MethodID(spec.ClassBasic, 50): true, // Return
	wire.MethodID(spec.ClassBasic, 60): true, // Deliver
	wire.MethodID(spec.ClassBasic, 71): true, // Get-Ok
}

type waiterEntry struct {
	id       uniqueid.ID
	ids      []uint32
	resultCh chan waiterResult
	once     sync.Once
}

type waiterResult struct {
	methodID uint32
	args     spec.Args
	err      error
}

func (w *waiterEntry) resolve(methodID uint32, args spec.Args, err error) {
	w.once.Do(func() {
		w.resultCh <- waiterResult{methodID: methodID, args: args, err: err}
		close(w.resultCh)
	})
}

// contentAssembly tracks the method+header+body* state for one in-flight
// incoming content sequence (spec.md §3 "Content assembly").
type contentAssembly struct {
	methodID  uint32
	args      spec.Args
	props     spec.Properties
	gotHeader bool
	remaining uint64
	stream    *streambuf.Stream
}

// Channel is the abstract state machine of spec.md §4.5: request/response
// matching, method dispatch, and local close, generalized from the
// teacher's ChannelAbstract-via-subclass design (spec.md §9) into one
// struct with role-specific callbacks injected by the publish/consume/
// command constructors — no virtual dispatch chain required in Go.
type Channel struct {
	id   uint16
	conn *Connection
	log  logger.Logger

	mu       sync.Mutex
	waiters  map[uint32][]*waiterEntry
	handlers map[uint32]func(spec.Args)
	content  *contentAssembly

	flow      bool
	destroyed bool
	closed    bool
	closeOnce sync.Once

	// onContent is invoked, on the read loop, as soon as a content-bearing
	// incoming method's header frame arrives; the following body frames
	// are then pushed into body, which is closed once body_size bytes have
	// arrived. body is a pre-closed empty stream when body_size == 0,
	// never nil. Reading body to completion inside onContent blocks the
	// frames that would fill it.
	onContent func(methodID uint32, args spec.Args, props spec.Properties, body *streambuf.Stream)
}

func newChannel(conn *Connection, id uint16) *Channel {
	ch := &Channel{
		id:       id,
		conn:     conn,
		log:      conn.log.With("channel", id),
		waiters:  make(map[uint32][]*waiterEntry),
		handlers: make(map[uint32]func(spec.Args)),
		flow:     true,
	}
	ch.handlers[wire.MethodID(spec.ClassChannel, 20)] = ch.onFlow // Channel.Flow
	ch.handlers[wire.MethodID(spec.ClassChannel, 40)] = ch.onClose // Channel.Close
	return ch
}

func (ch *Channel) onFlow(args spec.Args) {
	active := args.Bool("active")
	ch.mu.Lock()
	ch.flow = active
	ch.mu.Unlock()
	_ = ch.sendMethod(spec.ClassChannel, 21, spec.Args{"active": active})
}

func (ch *Channel) onClose(args spec.Args) {
	_ = ch.sendMethod(spec.ClassChannel, 41, spec.Args{})
	err := fromWire(args.Uint16("reply-code"), args.String("reply-text"),
		args.Uint16("class-id"), args.Uint16("method-id"), "Channel.Close")
	ch.destroy(err)
}

// CallAPI implements spec.md §4.5's call_api contract: register a waiter
// (with a fresh UniqueId) on every expected reply id before invoking
// send, so no inbound reply can race the registration; resolve the
// oldest waiter on whichever id answers first and deregister it from the
// others. With no expected ids, it degenerates to a bare send.
func (ch *Channel) CallAPI(ctx context.Context, expectedMethodIDs []uint32, send func() error) (spec.Args, uint32, error) {
	if len(expectedMethodIDs) == 0 {
		return nil, 0, send()
	}

	w := &waiterEntry{
		id:       ch.conn.uniqueIDs.Next(),
		ids:      expectedMethodIDs,
		resultCh: make(chan waiterResult, 1),
	}

	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return nil, 0, &Error{Kind: KindLocal, ReplyText: "channel destroyed"}
	}
	for _, id := range expectedMethodIDs {
		ch.waiters[id] = append(ch.waiters[id], w)
	}
	ch.mu.Unlock()

	if err := send(); err != nil {
		ch.removeWaiter(w)
		w.resolve(0, nil, err)
		return nil, 0, err
	}

	select {
	case res := <-w.resultCh:
		return res.args, res.methodID, res.err
	case <-ctx.Done():
		ch.removeWaiter(w)
		return nil, 0, ctx.Err()
	}
}

func (ch *Channel) removeWaiter(w *waiterEntry) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, id := range w.ids {
		q := ch.waiters[id]
		for i, e := range q {
			if e == w {
				ch.waiters[id] = append(q[:i], q[i+1:]...)
				break
			}
		}
	}
}

// resolveWaiter pops the oldest waiter registered on methodID, if any,
// and resolves it, deregistering it from every other id it was waiting
// on. Reports whether a waiter was found.
func (ch *Channel) resolveWaiter(methodID uint32, args spec.Args) bool {
	ch.mu.Lock()
	q := ch.waiters[methodID]
	if len(q) == 0 {
		ch.mu.Unlock()
		return false
	}
	w := q[0]
	ch.waiters[methodID] = q[1:]
	for _, id := range w.ids {
		if id == methodID {
			continue
		}
		oq := ch.waiters[id]
		for i, e := range oq {
			if e == w {
				ch.waiters[id] = append(oq[:i], oq[i+1:]...)
				break
			}
		}
	}
	ch.mu.Unlock()

	w.resolve(methodID, args, nil)
	return true
}

// RegisterHandler installs an async handler for unsolicited incoming
// methods on this channel (spec.md §4.5 handle_method's handler map).
func (ch *Channel) RegisterHandler(classID, methodID uint16, fn func(spec.Args)) {
	ch.mu.Lock()
	ch.handlers[wire.MethodID(classID, methodID)] = fn
	ch.mu.Unlock()
}

// handleMethod dispatches one incoming method frame.
func (ch *Channel) handleMethod(methodID uint32, args spec.Args) {
	if contentBearingIncoming[methodID] {
		ch.mu.Lock()
		if ch.content != nil {
			ch.mu.Unlock()
			ch.destroy(newReasonError("unexpected_frame", "content method while another content sequence is in progress"))
			return
		}
		ch.content = &contentAssembly{methodID: methodID, args: args}
		ch.mu.Unlock()
		return
	}

	if ch.resolveWaiter(methodID, args) {
		return
	}

	ch.mu.Lock()
	fn, ok := ch.handlers[methodID]
	ch.mu.Unlock()
	if ok {
		fn(args)
		return
	}

	ch.conn.destroy(newReasonError("command_invalid", "Handler for "+spec.Name(methodID)+" not found"))
}

// handleHeader processes a content-header frame following a content
// method (spec.md §4.7's content-assembly transformer, generalized to
// any of deliver/return/get-ok).
func (ch *Channel) handleHeader(bodySize uint64, props spec.Properties) {
	ch.mu.Lock()
	ca := ch.content
	if ca == nil || ca.gotHeader {
		ch.mu.Unlock()
		ch.destroy(newReasonError("unexpected_frame", "header frame with no pending content method"))
		return
	}
	ca.gotHeader = true
	ca.props = props
	ca.remaining = bodySize
	if bodySize > 0 {
		ca.stream = streambuf.New(streamHighWaterMark)
	} else {
		ca.stream = emptyStream()
	}
	methodID, methodArgs, stream := ca.methodID, ca.args, ca.stream
	if bodySize == 0 {
		ch.content = nil
	}
	cb := ch.onContent
	ch.mu.Unlock()

	if cb != nil {
		cb(methodID, methodArgs, props, stream)
	}
}

// handleBody appends one body frame's payload to the in-flight content
// assembly.
func (ch *Channel) handleBody(b []byte) {
	ch.mu.Lock()
	ca := ch.content
	if ca == nil || !ca.gotHeader {
		ch.mu.Unlock()
		ch.destroy(newReasonError("unexpected_frame", "body frame with no pending header"))
		return
	}
	if len(b) == 0 {
		ch.mu.Unlock()
		return
	}
	if uint64(len(b)) > ca.remaining {
		ch.mu.Unlock()
		ch.destroy(newReasonError("unexpected_frame", "body overshoots declared body_size"))
		return
	}
	ca.remaining -= uint64(len(b))
	stream := ca.stream
	done := ca.remaining == 0
	if done {
		ch.content = nil
	}
	ch.mu.Unlock()

	_ = stream.Push(context.Background(), b)
	if done {
		stream.Close()
	}
}

func emptyStream() *streambuf.Stream {
	s := streambuf.New(1)
	s.Close()
	return s
}

// sendMethod encodes and writes a method frame for (classID, methodID).
func (ch *Channel) sendMethod(classID, methodID uint16, args spec.Args) error {
	m, ok := spec.Lookup(wire.MethodID(classID, methodID))
	if !ok {
		return &Error{Kind: KindLocal, ReplyText: "unknown method"}
	}
	return ch.conn.sendMethodFrame(ch.id, m, args)
}

// Close implements spec.md §4.5's close(): a no-op if already
// closed/destroyed, otherwise send channel.close, await channel.close-ok,
// then mark closed.
func (ch *Channel) Close(ctx context.Context, cause error) error {
	ch.mu.Lock()
	if ch.closed || ch.destroyed {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	ce := cause
	var ae *Error
	if ce == nil {
		ae = closeOKError()
	} else if e, ok := ce.(*Error); ok {
		ae = e
	} else {
		ae = &Error{Kind: KindLocal, ReplyText: ce.Error()}
	}

	closeOkID := wire.MethodID(spec.ClassChannel, 41)
	_, _, err := ch.CallAPI(ctx, []uint32{closeOkID}, func() error {
		return ch.sendMethod(spec.ClassChannel, 40, spec.Args{
			"reply-code": uint16(ae.ReplyCode), "reply-text": ae.ReplyText,
			"class-id": uint16(0), "method-id": uint16(0),
		})
	})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	return nil
}

// destroy rejects every outstanding waiter with err and marks the channel
// terminal, per spec.md §4.5/§5.
func (ch *Channel) destroy(err error) {
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.destroyed = true
		waiters := ch.waiters
		ch.waiters = make(map[uint32][]*waiterEntry)
		ca := ch.content
		ch.content = nil
		ch.mu.Unlock()

		seen := make(map[*waiterEntry]bool)
		for _, q := range waiters {
			for _, w := range q {
				if seen[w] {
					continue
				}
				seen[w] = true
				w.resolve(0, nil, err)
			}
		}
		if ca != nil && ca.stream != nil {
			ca.stream.CloseWithError(err)
		}
		ch.conn.forgetChannel(ch.id)
		if ch.id != 0 {
			metrics.ActiveChannels.Dec()
		}
	})
}

func (ch *Channel) isDestroyed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.destroyed
}
