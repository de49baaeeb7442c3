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
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/streamqp/amqp/internal/fasttime"
	"github.com/streamqp/amqp/internal/metrics"
	"github.com/streamqp/amqp/internal/rescue"
	"github.com/streamqp/amqp/internal/uniqueid"
	"github.com/streamqp/amqp/logger"
	"github.com/streamqp/amqp/wire"
	"github.com/streamqp/amqp/wire/spec"
)

// protocolHeader is the fixed 8-octet greeting spec.md §4.4 opens every
// connection with: "AMQP" 0 major minor revision.
var protocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// tuning holds the three negotiated connection.tune values, spec.md §4.4.
type tuning struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// Connection is the state machine of spec.md §4.4: protocol-header
// exchange, SASL negotiation, tuning, channel allocation, heartbeats, and
// cascading a forced close to every open channel. It generalizes the
// teacher's per-flow tcpStream/udpStream reconstruction loop (one
// goroutine draining one net.Conn) from passive reassembly to an active
// dial-and-speak client.
type Connection struct {
	id        uuid.UUID
	log       logger.Logger
	cfg       Config
	conn      net.Conn
	tuning    tuning
	uniqueIDs *uniqueid.Factory

	writeMu sync.Mutex
	demux   demuxer

	mu          sync.Mutex
	channels    map[uint16]*Channel
	nextChannel uint16
	closed      bool
	closeOnce   sync.Once

	readDone chan struct{}
	lastRecv int64 // unix millis of the last received byte, guarded by mu; 0 until OPEN

	serverProps wire.Table
}

// Dial opens a TCP connection to cfg.Host:cfg.Port, exchanges the
// protocol header, negotiates SASL and tuning, opens the connection's
// virtual host, and starts the heartbeat send/check loops — spec.md
// §4.4's full handshake.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newTransportError(errors.Wrapf(err, "amqp: dial %s", addr))
	}

	id := uuid.New()
	c := &Connection{
		id:          id,
		log:         logger.Std().With("conn_id", id.String(), "remote", addr, "vhost", cfg.VHost),
		cfg:         cfg,
		conn:        raw,
		uniqueIDs:   uniqueid.NewFactory(func() int64 { return time.Now().UnixMilli() }),
		channels:    make(map[uint16]*Channel),
		nextChannel: 1,
		readDone:    make(chan struct{}),
	}
	c.channels[0] = newChannel(c, 0)
	c.tuning = tuning{FrameMax: FrameMinSize(cfg.FrameMax)}

	if err := c.handshake(ctx); err != nil {
		raw.Close()
		return nil, err
	}

	go c.readLoop()
	if c.tuning.Heartbeat > 0 {
		go c.heartbeatLoop()
	}
	metrics.ActiveConnections.Inc()
	c.log.Infof("connection established, channel-max=%d frame-max=%d heartbeat=%ds",
		c.tuning.ChannelMax, c.tuning.FrameMax, c.tuning.Heartbeat)
	return c, nil
}

// FrameMinSize clamps a requested frame_max up to wire.FrameMinSize, or
// returns 0 to mean "no limit offered", spec.md §6.
func FrameMinSize(requested uint32) uint32 {
	if requested == 0 {
		return 0
	}
	if requested < wire.FrameMinSize {
		return wire.FrameMinSize
	}
	return requested
}

func (c *Connection) ch0() *Channel { return c.channels[0] }

// handshake drives connection.start/start-ok, connection.tune/tune-ok,
// and connection.open/open-ok synchronously before the read loop starts,
// the same way the teacher's sniffer bring-up parses a handful of
// well-known packets before handing the stream to its steady-state loop.
func (c *Connection) handshake(ctx context.Context) error {
	if _, err := c.conn.Write(protocolHeader); err != nil {
		return newTransportError(err)
	}

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	start, err := c.readOneMethod()
	if err != nil {
		return err
	}
	if start.ID() != wire.MethodID(spec.ClassConnection, 10) {
		return newReasonError("unexpected_frame", "expected Connection.Start")
	}
	startArgs := start.Args
	if t, ok := startArgs["server-properties"].(wire.Table); ok {
		c.serverProps = t
	}

	mechanism, response := c.chooseSASL()
	if err := c.sendMethod0(spec.ClassConnection, 11, spec.Args{
		"client-properties": c.clientProperties(),
		"mechanism":          mechanism,
		"response":           response,
		"locale":             c.cfg.Locale,
	}); err != nil {
		return err
	}

	tune, err := c.readOneMethod()
	if err != nil {
		return err
	}
	if tune.ID() != wire.MethodID(spec.ClassConnection, 30) {
		return newReasonError("unexpected_frame", "expected Connection.Tune")
	}
	c.negotiateTuning(tune.Args)

	if err := c.sendMethod0(spec.ClassConnection, 31, spec.Args{
		"channel-max": c.tuning.ChannelMax,
		"frame-max":   c.tuning.FrameMax,
		"heartbeat":   c.tuning.Heartbeat,
	}); err != nil {
		return err
	}

	if err := c.sendMethod0(spec.ClassConnection, 40, spec.Args{
		"virtual-host": c.cfg.VHost, "reserved-1": "", "reserved-2": false,
	}); err != nil {
		return err
	}
	openOk, err := c.readOneMethod()
	if err != nil {
		return err
	}
	if openOk.ID() != wire.MethodID(spec.ClassConnection, 41) {
		return newReasonError("unexpected_frame", "expected Connection.Open-Ok")
	}

	c.mu.Lock()
	c.lastRecv = time.Now().UnixMilli()
	c.mu.Unlock()
	return nil
}

type decodedMethod struct {
	spec.Method
	Args spec.Args
}

// readOneMethod blocks for exactly one method frame on channel 0,
// demuxing raw bytes as they arrive. Only used during the handshake,
// before the steady-state read loop takes over.
func (c *Connection) readOneMethod() (decodedMethod, error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return decodedMethod{}, newTransportError(err)
		}
		frames, err := c.demux.Feed(buf[:n])
		if err != nil {
			return decodedMethod{}, err
		}
		for _, f := range frames {
			if f.Kind != wire.FrameMethod {
				continue
			}
			r := wire.NewReader(f.Payload)
			classID, err := r.ReadUint16("class-id")
			if err != nil {
				return decodedMethod{}, err
			}
			methodID, err := r.ReadUint16("method-id")
			if err != nil {
				return decodedMethod{}, err
			}
			m, ok := spec.Lookup(wire.MethodID(classID, methodID))
			if !ok {
				return decodedMethod{}, newReasonError("command_invalid", "unknown method during handshake")
			}
			args, err := spec.Decode(r, m)
			if err != nil {
				return decodedMethod{}, err
			}
			return decodedMethod{Method: m, Args: args}, nil
		}
	}
}

// chooseSASL picks the first mechanism in cfg.AuthMechanism, building the
// PLAIN or AMQPLAIN response per spec.md §4.4.
func (c *Connection) chooseSASL() (mechanism string, response string) {
	for _, m := range c.cfg.AuthMechanism {
		switch m {
		case "PLAIN":
			return "PLAIN", "\x00" + c.cfg.Username + "\x00" + c.cfg.Password
		case "AMQPLAIN":
			w := wire.NewGrowableWriter("handshake")
			defer w.Release()
			tbl := wire.Table{
				{Key: "LOGIN", Value: c.cfg.Username},
				{Key: "PASSWORD", Value: c.cfg.Password},
			}
			_ = w.WriteTable("response", tbl)
			return "AMQPLAIN", string(w.Bytes()[4:])
		}
	}
	return "PLAIN", "\x00" + c.cfg.Username + "\x00" + c.cfg.Password
}

func (c *Connection) clientProperties() wire.Table {
	return wire.Table{
		{Key: "product", Value: "streamqp"},
		{Key: "platform", Value: "go"},
		{Key: "capabilities", Value: wire.Table{
			{Key: "connection.blocked", Value: true},
			{Key: "consumer_cancel_notify", Value: true},
			{Key: "publisher_confirms", Value: true},
		}},
	}
}

// negotiateTuning takes the min of our configured ceilings and the
// broker's proposal for channel_max/frame_max. heartbeat is the one
// exception to that min(client, server) rule: per spec.md §4.4 "tuning
// arithmetic", heartbeat always uses the client's requested value (it is
// the client's desired rate for receiving), falling back to the broker's
// proposal only when the client requested 0 (no opinion).
func (c *Connection) negotiateTuning(args spec.Args) {
	serverChMax := args.Uint16("channel-max")
	serverFrMax := args.Uint32("frame-max")
	serverHb := args.Uint16("heartbeat")

	chMax := minNonZero(c.cfg.ChannelMax, serverChMax)
	frMax := minNonZero32(c.tuning.FrameMax, serverFrMax)
	hb := c.cfg.Heartbeat
	if hb == 0 {
		hb = serverHb
	}
	c.tuning = tuning{ChannelMax: chMax, FrameMax: frMax, Heartbeat: hb}
}

func minNonZero(a, b uint16) uint16 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func minNonZero32(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// sendMethod0 sends a connection-class method on channel 0 without
// awaiting a reply (the handshake reads replies explicitly instead).
func (c *Connection) sendMethod0(classID, methodID uint16, args spec.Args) error {
	m, ok := spec.Lookup(wire.MethodID(classID, methodID))
	if !ok {
		return newReasonError("command_invalid", "unknown connection method")
	}
	return c.sendMethodFrame(0, m, args)
}

// sendMethodFrame encodes m/args and writes one complete method frame for
// channel ch, serialized against every other writer on this connection
// (spec.md §5: frames from different channels may interleave, but each
// individual frame write is atomic).
func (c *Connection) sendMethodFrame(ch uint16, m spec.Method, args spec.Args) error {
	w := wire.NewGrowableWriter(c.ownerKey())
	defer w.Release()
	w.MethodStart(ch, 0, m.ID())
	if err := spec.Encode(w, m, args); err != nil {
		return err
	}
	w.FrameEnd()
	w.SetFrameLength()
	return c.writeFrame(w.Bytes())
}

func (c *Connection) sendHeaderFrame(ch uint16, classID uint16, bodySize uint64, props spec.Properties) error {
	w := wire.NewGrowableWriter(c.ownerKey())
	defer w.Release()
	w.HeaderStart(ch, 0, classID, bodySize)
	if err := spec.EncodeProperties(w, props); err != nil {
		return err
	}
	w.FrameEnd()
	w.SetFrameLength()
	return c.writeFrame(w.Bytes())
}

// sendBodyFrames chunks body at frame_max (or FrameMinSize if
// unnegotiated) and writes each chunk as its own body frame.
func (c *Connection) sendBodyFrames(ch uint16, body []byte) error {
	chunkSize := int(c.tuning.FrameMax)
	if chunkSize == 0 {
		chunkSize = wire.FrameMinSize
	}
	// leave room for the 7-octet frame header + 1 trailing octet.
	chunkSize -= 8
	for len(body) > 0 {
		n := len(body)
		if n > chunkSize {
			n = chunkSize
		}
		chunk := body[:n]
		body = body[n:]

		w := wire.NewGrowableWriter(c.ownerKey())
		w.BodyStart(ch, uint32(n))
		w.WriteRaw(chunk)
		w.FrameEnd()
		w.SetFrameLength()
		err := c.writeFrame(w.Bytes())
		w.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) ownerKey() string {
	return c.conn.RemoteAddr().String()
}

func (c *Connection) writeFrame(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return newTransportError(err)
	}
	if len(b) > 0 {
		metrics.FramesSent.WithLabelValues(metrics.FrameKindLabel(b[0])).Inc()
	}
	return nil
}

// OpenChannel allocates the lowest unused channel id (1..channel_max, or
// unbounded if channel_max is 0), sends channel.open, and awaits
// channel.open-ok, spec.md §4.4 "channel allocation".
func (c *Connection) OpenChannel(ctx context.Context) (*Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &Error{Kind: KindLocal, ReplyText: "connection closed"}
	}
	id, err := c.allocateChannelID()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch := newChannel(c, id)
	c.channels[id] = ch
	c.mu.Unlock()

	openOkID := wire.MethodID(spec.ClassChannel, 11)
	_, _, err = ch.CallAPI(ctx, []uint32{openOkID}, func() error {
		return ch.sendMethod(spec.ClassChannel, 10, spec.Args{"reserved-1": ""})
	})
	if err != nil {
		c.forgetChannel(id)
		return nil, err
	}
	metrics.ActiveChannels.Inc()
	return ch, nil
}

// allocateChannelID scans upward from 1 and returns the lowest unused id
// in 1..max, spec.md §4.4's "lowest-unused-id algorithm". Callers hold
// c.mu.
func (c *Connection) allocateChannelID() (uint16, error) {
	max := c.tuning.ChannelMax
	if max == 0 {
		max = 65535
	}
	for id := uint16(1); id != 0 && id <= max; id++ {
		if _, used := c.channels[id]; !used {
			return id, nil
		}
	}
	return 0, newReasonError("resource_error", "channel-max exhausted")
}

func (c *Connection) forgetChannel(id uint16) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

// readLoop is the single reader goroutine per connection spec.md §5
// requires: it owns the socket read side exclusively, demuxes frames,
// and dispatches each to its channel.
func (c *Connection) readLoop() {
	defer rescue.HandleCrash()
	defer close(c.readDone)
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.destroy(newTransportError(err))
			return
		}
		c.mu.Lock()
		c.lastRecv = time.Now().UnixMilli()
		c.mu.Unlock()

		frames, err := c.demux.Feed(buf[:n])
		if err != nil {
			c.destroy(err)
			return
		}
		for _, f := range frames {
			c.dispatch(f)
		}
	}
}

func (c *Connection) dispatch(f wire.Frame) {
	metrics.FramesReceived.WithLabelValues(metrics.FrameKindLabel(f.Kind)).Inc()
	if f.Kind == wire.FrameHeartbeat {
		return
	}

	c.mu.Lock()
	ch, ok := c.channels[f.Channel]
	c.mu.Unlock()
	if !ok {
		c.destroy(newReasonError("channel_error", "frame on unknown channel"))
		return
	}

	switch f.Kind {
	case wire.FrameMethod:
		r := wire.NewReader(f.Payload)
		classID, err := r.ReadUint16("class-id")
		if err != nil {
			c.destroy(err)
			return
		}
		methodID, err := r.ReadUint16("method-id")
		if err != nil {
			c.destroy(err)
			return
		}
		id := wire.MethodID(classID, methodID)
		m, ok := spec.Lookup(id)
		if !ok {
			c.destroy(newReasonError("command_invalid", "unknown method id"))
			return
		}
		args, err := spec.Decode(r, m)
		if err != nil {
			c.destroy(err)
			return
		}
		if f.Channel == 0 {
			c.handleConnectionMethod(id, args)
			return
		}
		ch.handleMethod(id, args)

	case wire.FrameHeader:
		r := wire.NewReader(f.Payload)
		if _, err := r.ReadUint16("class-id"); err != nil {
			c.destroy(err)
			return
		}
		if _, err := r.ReadUint16("weight"); err != nil {
			c.destroy(err)
			return
		}
		bodySize, err := r.ReadUint64("body-size")
		if err != nil {
			c.destroy(err)
			return
		}
		props, err := spec.DecodeProperties(r)
		if err != nil {
			c.destroy(err)
			return
		}
		ch.handleHeader(bodySize, props)

	case wire.FrameBody:
		ch.handleBody(f.Payload)
	}
}

// handleConnectionMethod processes channel-0 (connection-class) frames:
// connection.close, connection.blocked/unblocked, connection.update-secret,
// and close-ok/tune replies already consumed synchronously during the
// handshake never reach here again.
func (c *Connection) handleConnectionMethod(methodID uint32, args spec.Args) {
	ch0 := c.ch0()
	switch methodID {
	case wire.MethodID(spec.ClassConnection, 50): // Close
		_ = c.sendMethod0(spec.ClassConnection, 51, spec.Args{})
		err := fromWire(args.Uint16("reply-code"), args.String("reply-text"),
			args.Uint16("class-id"), args.Uint16("method-id"), "Connection.Close")
		c.destroy(err)
	case wire.MethodID(spec.ClassConnection, 60): // Blocked
		c.log.Warnf("connection blocked: %s", args.String("reason"))
	case wire.MethodID(spec.ClassConnection, 61): // Unblocked
		c.log.Infof("connection unblocked")
	case wire.MethodID(spec.ClassConnection, 70): // Update-Secret
		_ = c.sendMethod0(spec.ClassConnection, 71, spec.Args{})
	default:
		if !ch0.resolveWaiter(methodID, args) {
			c.destroy(newReasonError("command_invalid", "Handler for "+spec.Name(methodID)+" not found"))
		}
	}
}

// heartbeatMargin is spec.md §4.4's heartbeat margin-of-error,
// clamp(heartbeat*1000/100, 50ms, 1000ms).
func heartbeatMargin(heartbeat uint16) time.Duration {
	margin := time.Duration(heartbeat) * time.Second / 100
	if margin < 50*time.Millisecond {
		margin = 50 * time.Millisecond
	}
	if margin > time.Second {
		margin = time.Second
	}
	return margin
}

// heartbeatLoop runs spec.md §4.4's two independent heartbeat timers: a
// send loop that writes a heartbeat frame every heartbeat*1000-margin ms
// (adjusting for the time the write itself took), and a fixed 1s check
// loop that destroys the connection once nothing has been received for
// longer than heartbeat*1000+margin ms.
func (c *Connection) heartbeatLoop() {
	defer rescue.HandleCrash()
	heartbeat := time.Duration(c.tuning.Heartbeat) * time.Second
	margin := heartbeatMargin(c.tuning.Heartbeat)

	sendInterval := heartbeat - margin
	if sendInterval <= 0 {
		sendInterval = heartbeat
	}
	sendTimer := time.NewTimer(sendInterval)
	defer sendTimer.Stop()

	checkTicker := time.NewTicker(time.Second)
	defer checkTicker.Stop()

	timeout := heartbeat + margin

	for {
		select {
		case <-c.readDone:
			return
		case <-sendTimer.C:
			start := time.Now()
			w := wire.NewGrowableWriter(c.ownerKey())
			w.Heartbeat()
			_ = c.writeFrame(w.Bytes())
			w.Release()

			next := sendInterval - time.Since(start)
			if next < 0 {
				next = 0
			}
			sendTimer.Reset(next)
		case <-checkTicker.C:
			c.mu.Lock()
			last := c.lastRecv
			c.mu.Unlock()
			if last != 0 && time.Since(time.UnixMilli(last)) > timeout {
				metrics.HeartbeatMisses.Inc()
				c.destroy(newTimeoutError("Heartbeat timeout expired"))
				return
			}
		}
	}
}

// Close gracefully shuts the connection down: connection.close,
// connection.close-ok, then tears down the socket and every channel.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ae := closeOKError()
	closeOkID := wire.MethodID(spec.ClassConnection, 51)
	_, _, err := c.ch0().CallAPI(ctx, []uint32{closeOkID}, func() error {
		return c.sendMethod0(spec.ClassConnection, 50, spec.Args{
			"reply-code": uint16(ae.ReplyCode), "reply-text": ae.ReplyText,
			"class-id": uint16(0), "method-id": uint16(0),
		})
	})
	c.destroy(nil)
	return err
}

// destroy tears the connection down once: closes the socket, cascades a
// destroy to every open channel with the triggering error, and aggregates
// any teardown failures via go-multierror (spec.md §5 "forced close
// cascading"). A nil err means a clean local Close().
func (c *Connection) destroy(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		channels := c.channels
		c.channels = make(map[uint16]*Channel)
		c.mu.Unlock()
		metrics.ActiveConnections.Dec()

		var result error
		if cerr := c.conn.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}

		reason := err
		if reason == nil {
			reason = closeOKError()
		}
		for id, ch := range channels {
			if id == 0 {
				continue
			}
			ch.destroy(reason)
		}
		if err != nil {
			c.log.Warnf("connection destroyed: %v", err)
		}
		if result != nil {
			c.log.Warnf("connection teardown errors: %v", result)
		}
	})
}

// snapshot is the shape Snapshot serializes, mirroring the fields the
// teacher's sinker exporters dump for diagnostics.
type snapshot struct {
	ID         string   `json:"id"`
	Remote     string   `json:"remote"`
	VHost      string   `json:"vhost"`
	ChannelMax uint16   `json:"channel_max"`
	FrameMax   uint32   `json:"frame_max"`
	Heartbeat  uint16   `json:"heartbeat"`
	Closed     bool     `json:"closed"`
	OpenChans  []uint16 `json:"open_channels"`
	AsOf       int64    `json:"as_of"`
}

// Snapshot returns a diagnostic JSON dump of the connection's current
// state: negotiated tuning plus every open channel id. Grounded on the
// teacher's exporter/sinker pattern of rendering internal state as JSON
// for operator-facing diagnostics, here serialized with goccy/go-json.
func (c *Connection) Snapshot() ([]byte, error) {
	c.mu.Lock()
	ids := make([]uint16, 0, len(c.channels))
	for id := range c.channels {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	s := snapshot{
		ID:         c.id.String(),
		Remote:     c.conn.RemoteAddr().String(),
		VHost:      c.cfg.VHost,
		ChannelMax: c.tuning.ChannelMax,
		FrameMax:   c.tuning.FrameMax,
		Heartbeat:  c.tuning.Heartbeat,
		Closed:     c.closed,
		OpenChans:  ids,
		AsOf:       fasttime.UnixTimestamp(),
	}
	c.mu.Unlock()
	return json.Marshal(s)
}
