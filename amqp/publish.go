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
	"sync"

	"github.com/streamqp/amqp/internal/streambuf"
	"github.com/streamqp/amqp/logger"
	"github.com/streamqp/amqp/wire"
	"github.com/streamqp/amqp/wire/spec"
)

// Confirmation is the resolved outcome of one published message once the
// broker acks, nacks, or returns it, spec.md §4.6.
type Confirmation struct {
	DeliveryTag uint64
	Ack         bool
	Returned    *ReturnInfo
}

// ReturnInfo carries the broker's basic.return details for an unroutable
// mandatory/immediate publish.
type ReturnInfo struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

type pendingConfirm struct {
	tag      uint64
	resultCh chan Confirmation
	once     sync.Once
}

func (p *pendingConfirm) resolve(c Confirmation) {
	p.once.Do(func() {
		p.resultCh <- c
		close(p.resultCh)
	})
}

// PublishChannel is a channel opened for confirm-gated publishing,
// spec.md §4.6.
type PublishChannel struct {
	ch  *Channel
	log logger.Logger

	mu       sync.Mutex
	nextTag  uint64
	pending  map[uint64]*pendingConfirm
	returned *ReturnInfo // set by basic.return, consumed by the following ack/nack
}

// NewPublishChannel opens a channel and sends confirm.select, turning on
// publisher confirms (spec.md §4.6). It must be the first thing done on a
// freshly opened channel.
func NewPublishChannel(ctx context.Context, conn *Connection) (*PublishChannel, error) {
	ch, err := conn.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}
	pc := &PublishChannel{ch: ch, log: ch.log, pending: make(map[uint64]*pendingConfirm)}

	selectOkID := wire.MethodID(spec.ClassConfirm, 11)
	_, _, err = ch.CallAPI(ctx, []uint32{selectOkID}, func() error {
		return ch.sendMethod(spec.ClassConfirm, 10, spec.Args{"nowait": false})
	})
	if err != nil {
		ch.destroy(err)
		return nil, err
	}

	ch.RegisterHandler(spec.ClassBasic, 80, pc.onAck)  // Basic.Ack
	ch.RegisterHandler(spec.ClassBasic, 120, pc.onNack) // Basic.Nack
	ch.onContent = pc.onContent
	return pc, nil
}

// Publish sends one message: basic.publish, the content header, then
// exactly bodySize bytes read from body, sent as frame_max-sized body
// frames, spec.md §4.6/§4.8. The whole body is read into one in-memory
// buffer before the first body frame is written; it is not streamed
// chunk by chunk from body. It returns a channel that resolves once the
// broker acks, nacks, or returns the message.
func (pc *PublishChannel) Publish(ctx context.Context, exchange, routingKey string, mandatory bool, props spec.Properties, bodySize uint64, body io.Reader) (<-chan Confirmation, error) {
	if err := wire.AssertName("exchange", exchange); err != nil {
		return nil, &Error{Kind: KindLocal, ReplyText: err.Error()}
	}

	pc.mu.Lock()
	pc.nextTag++
	tag := pc.nextTag
	pconf := &pendingConfirm{tag: tag, resultCh: make(chan Confirmation, 1)}
	pc.pending[tag] = pconf
	pc.mu.Unlock()

	if err := pc.ch.sendMethod(spec.ClassBasic, 40, spec.Args{
		"reserved-1": uint16(0), "exchange": exchange, "routing-key": routingKey,
		"mandatory": mandatory, "immediate": false,
	}); err != nil {
		pc.dropPending(tag)
		return nil, err
	}

	if err := pc.ch.conn.sendHeaderFrame(pc.ch.id, spec.ClassBasic, bodySize, props); err != nil {
		pc.dropPending(tag)
		return nil, err
	}

	buf := make([]byte, 0)
	if bodySize > 0 {
		buf = make([]byte, bodySize)
		if _, err := io.ReadFull(body, buf); err != nil {
			pc.dropPending(tag)
			return nil, err
		}
	}
	if err := pc.ch.conn.sendBodyFrames(pc.ch.id, buf); err != nil {
		pc.dropPending(tag)
		return nil, err
	}

	return pconf.resultCh, nil
}

func (pc *PublishChannel) dropPending(tag uint64) {
	pc.mu.Lock()
	delete(pc.pending, tag)
	pc.mu.Unlock()
}

// onContent handles the header+body that trails a basic.return: we drain
// and discard the returned message body (we already hold, or have
// already streamed, the original), keeping the frame stream in sync, and
// stash the return's details so the ack/nack which always follows can
// resolve the confirmation as returned rather than delivered.
func (pc *PublishChannel) onContent(methodID uint32, args spec.Args, _ spec.Properties, body *streambuf.Stream) {
	if methodID != wire.MethodID(spec.ClassBasic, 50) {
		return
	}
	info := &ReturnInfo{
		ReplyCode:  args.Uint16("reply-code"),
		ReplyText:  args.String("reply-text"),
		Exchange:   args.String("exchange"),
		RoutingKey: args.String("routing-key"),
	}
	pc.mu.Lock()
	pc.returned = info
	pc.mu.Unlock()

	go io.Copy(io.Discard, body)
}

// onAck resolves every confirmed tag (or every tag up to and including
// delivery-tag, if multiple is set) with Ack=true, folding in a pending
// basic.return if one arrived first (spec.md §4.6 "simultaneous
// ack/return waiter registration").
func (pc *PublishChannel) onAck(args spec.Args) {
	pc.resolve(args.Uint64("delivery-tag"), args.Bool("multiple"), true)
}

func (pc *PublishChannel) onNack(args spec.Args) {
	pc.resolve(args.Uint64("delivery-tag"), args.Bool("multiple"), false)
}

func (pc *PublishChannel) resolve(deliveryTag uint64, multiple, ack bool) {
	pc.mu.Lock()
	var tags []uint64
	if multiple {
		for t := range pc.pending {
			if t <= deliveryTag {
				tags = append(tags, t)
			}
		}
	} else if _, ok := pc.pending[deliveryTag]; ok {
		tags = []uint64{deliveryTag}
	}

	returned := pc.returned
	pc.returned = nil

	resolved := make([]*pendingConfirm, 0, len(tags))
	for _, t := range tags {
		resolved = append(resolved, pc.pending[t])
		delete(pc.pending, t)
	}
	pc.mu.Unlock()

	for _, p := range resolved {
		c := Confirmation{DeliveryTag: p.tag, Ack: ack}
		if returned != nil {
			c.Returned = returned
			c.Ack = false
		}
		p.resolve(c)
	}
}

// Close closes the underlying channel, resolving every straggler pending
// confirm as not acked (Ack=false, no Returned) first (spec.md §4.6 "straggler-ack
// no-op"): once a tag is resolved here, a late ack/nack for it arriving
// from the broker finds no pending entry and is silently ignored.
func (pc *PublishChannel) Close(ctx context.Context) error {
	pc.mu.Lock()
	stragglers := pc.pending
	pc.pending = make(map[uint64]*pendingConfirm)
	pc.mu.Unlock()

	for _, p := range stragglers {
		p.resolve(Confirmation{DeliveryTag: p.tag, Ack: false})
	}
	return pc.ch.Close(ctx, nil)
}
