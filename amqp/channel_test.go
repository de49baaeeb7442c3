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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamqp/amqp/internal/streambuf"
	"github.com/streamqp/amqp/internal/uniqueid"
	"github.com/streamqp/amqp/logger"
	"github.com/streamqp/amqp/wire"
	"github.com/streamqp/amqp/wire/spec"
)

func newTestConnection() *Connection {
	return &Connection{
		log:       logger.Std(),
		uniqueIDs: uniqueid.NewFactory(func() int64 { return time.Now().UnixMilli() }),
		channels:  make(map[uint16]*Channel),
	}
}

func newTestChannel(conn *Connection, id uint16) *Channel {
	ch := newChannel(conn, id)
	conn.channels[id] = ch
	return ch
}

func TestCallAPIResolvesOnExpectedReply(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	openOkID := wire.MethodID(spec.ClassChannel, 11)
	go func() {
		time.Sleep(5 * time.Millisecond)
		ch.resolveWaiter(openOkID, spec.Args{"reserved-1": "ok"})
	}()

	args, methodID, err := ch.CallAPI(context.Background(), []uint32{openOkID}, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, openOkID, methodID)
	assert.Equal(t, "ok", args.String("reserved-1"))
}

func TestCallAPISendFailureRemovesWaiter(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	openOkID := wire.MethodID(spec.ClassChannel, 11)
	_, _, err := ch.CallAPI(context.Background(), []uint32{openOkID}, func() error {
		return &Error{Kind: KindLocal, ReplyText: "boom"}
	})
	require.Error(t, err)

	ch.mu.Lock()
	n := len(ch.waiters[openOkID])
	ch.mu.Unlock()
	assert.Zero(t, n)
}

func TestCallAPIContextCancellationRemovesWaiter(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	openOkID := wire.MethodID(spec.ClassChannel, 11)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ch.CallAPI(ctx, []uint32{openOkID}, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	ch.mu.Lock()
	n := len(ch.waiters[openOkID])
	ch.mu.Unlock()
	assert.Zero(t, n)
}

func TestWaitersResolveInFIFOOrder(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)
	consumeOkID := wire.MethodID(spec.ClassBasic, 21)

	type result struct {
		order int
		args  spec.Args
	}
	results := make(chan result, 3)

	for i := 0; i < 3; i++ {
		i := i
		go func() {
			args, _, err := ch.CallAPI(context.Background(), []uint32{consumeOkID}, func() error { return nil })
			if err == nil {
				results <- result{order: i, args: args}
			}
		}()
		// give CallAPI a moment to register before the next goroutine starts,
		// so insertion order is deterministic for this test.
		time.Sleep(2 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		ch.resolveWaiter(consumeOkID, spec.Args{"consumer-tag": string(rune('a' + i))})
	}

	tags := make([]string, 3)
	for i := 0; i < 3; i++ {
		r := <-results
		tags[r.order] = r.args.String("consumer-tag")
	}
	assert.Equal(t, []string{"a", "b", "c"}, tags)
}

func TestHandleMethodDispatchesToRegisteredHandler(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	cancelID := wire.MethodID(spec.ClassBasic, 30)
	var gotTag string
	done := make(chan struct{})
	ch.RegisterHandler(spec.ClassBasic, 30, func(args spec.Args) {
		gotTag = args.String("consumer-tag")
		close(done)
	})

	ch.handleMethod(cancelID, spec.Args{"consumer-tag": "ctag-9"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registered handler was never invoked")
	}
	assert.Equal(t, "ctag-9", gotTag)
}

func TestHandleMethodPrefersWaiterOverHandler(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	id := wire.MethodID(spec.ClassBasic, 21)
	called := false
	ch.RegisterHandler(spec.ClassBasic, 21, func(spec.Args) { called = true })

	w := &waiterEntry{id: conn.uniqueIDs.Next(), ids: []uint32{id}, resultCh: make(chan waiterResult, 1)}
	ch.mu.Lock()
	ch.waiters[id] = append(ch.waiters[id], w)
	ch.mu.Unlock()

	ch.handleMethod(id, spec.Args{"consumer-tag": "x"})

	res := <-w.resultCh
	assert.NoError(t, res.err)
	assert.False(t, called)
}

func TestContentAssemblyDeliverThenHeaderThenBody(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	var gotMethodID uint32
	var gotBody []byte
	done := make(chan struct{})
	ch.onContent = func(methodID uint32, args spec.Args, props spec.Properties, body *streambuf.Stream) {
		gotMethodID = methodID
		// onContent runs at header time; the body frames arrive after it
		// returns, so the body is drained off the calling goroutine.
		go func() {
			b, _ := io.ReadAll(body)
			gotBody = b
			close(done)
		}()
	}

	deliverID := wire.MethodID(spec.ClassBasic, 60)
	ch.handleMethod(deliverID, spec.Args{"consumer-tag": "ctag-1", "delivery-tag": uint64(1)})
	ch.handleHeader(5, spec.Properties{"content-type": "text/plain"})
	ch.handleBody([]byte("hel"))
	ch.handleBody([]byte("lo"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onContent was never invoked")
	}
	assert.Equal(t, deliverID, gotMethodID)
	assert.Equal(t, "hello", string(gotBody))
}

func TestContentAssemblyZeroLengthBodyClosesImmediately(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)

	done := make(chan *streambuf.Stream, 1)
	ch.onContent = func(_ uint32, _ spec.Args, _ spec.Properties, body *streambuf.Stream) {
		done <- body
	}

	returnID := wire.MethodID(spec.ClassBasic, 50)
	ch.handleMethod(returnID, spec.Args{"reply-code": uint16(312), "reply-text": "no route"})
	ch.handleHeader(0, spec.Properties{})

	body := <-done
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestDestroyRejectsOutstandingWaiters(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)
	consumeOkID := wire.MethodID(spec.ClassBasic, 21)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := ch.CallAPI(context.Background(), []uint32{consumeOkID}, func() error { return nil })
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)

	boom := &Error{Kind: KindHard, ReplyText: "connection forced"}
	ch.destroy(boom)

	err := <-errCh
	assert.Equal(t, boom, err)
	assert.True(t, ch.isDestroyed())
}

func TestDestroyIsIdempotent(t *testing.T) {
	conn := newTestConnection()
	ch := newTestChannel(conn, 1)
	ch.destroy(&Error{Kind: KindHard})
	assert.NotPanics(t, func() {
		ch.destroy(&Error{Kind: KindHard})
	})
}
