package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/realtime-docstore/internal/db"
)

const (
	opcodeContinuation = 0x0
	opcodeText         = 0x1
	opcodeBinary       = 0x2
	opcodeClose        = 0x8
	opcodePing         = 0x9
	opcodePong         = 0xA

	closeNormalClosure       = 1000
	closeGoingAway           = 1001
	closeUnsupportedData     = 1003
	closePolicyViolation     = 1008
	closeInternalServerError = 1011
	closeTryAgainLater       = 1013
)

var (
	errSendBufferFull = errors.New("send buffer full")
)

// Envelope is the wire unit for every message in both directions. The ns
// field selects the handler and data carries the handler-specific payload.
type Envelope struct {
	NS   string          `json:"ns"`
	Data json.RawMessage `json:"data,omitempty"`
}

type connectionOptions struct {
	heartbeatInterval  time.Duration
	heartbeatTolerance int
	sendBufferSize     int
	writeTimeout       time.Duration
	maxMessageSize     int64
}

// Connection represents an upgraded WebSocket session bound to one database.
type Connection struct {
	conn      net.Conn
	identity  ClientIdentity
	registry  *ConnectionRegistry
	logger    zerolog.Logger
	send      chan outboundMessage
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}

	opts connectionOptions

	lastPong atomic.Int64
	onClose  func()
}

type outboundMessage struct {
	opcode  byte
	payload []byte
}

func newConnection(netConn net.Conn, id ClientIdentity, registry *ConnectionRegistry, logger zerolog.Logger, opts connectionOptions, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:     netConn,
		identity: id,
		registry: registry,
		logger:   logger,
		send:     make(chan outboundMessage, opts.sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
		opts:     opts,
		onClose:  onClose,
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// Database returns the name of the database this connection is bound to.
func (c *Connection) Database() string { return c.identity.Database }

// Session returns the authenticated database session.
func (c *Connection) Session() *db.Session { return c.identity.Session }

// Context exposes the lifecycle context for hooks.
func (c *Connection) Context() context.Context { return c.ctx }

// Registry returns the shared connection registry so hooks can publish events.
func (c *Connection) Registry() *ConnectionRegistry { return c.registry }

// SendJSON marshals an envelope with the given namespace and enqueues it as
// a text frame.
func (c *Connection) SendJSON(ns string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{NS: ns, Data: raw})
	if err != nil {
		return err
	}
	return c.sendText(payload)
}

func (c *Connection) sendText(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	msg := outboundMessage{opcode: opcodeText, payload: payload}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn().Str("database", c.identity.Database).Str("session", c.identity.Session.ID).Msg("send buffer full; closing connection")
		c.closeWithFrame(closeTryAgainLater, "backpressure")
		return errSendBufferFull
	}
}

// Run starts the read/write pumps until the connection is closed.
func (c *Connection) Run(hooks Hooks) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop()
	}()

	if err := c.readLoop(hooks); err != nil {
		c.logger.Debug().Err(err).Msg("read loop exited")
	}
	c.Close()
	wg.Wait()
}

// Close tears the connection down. The send channel is never closed: the
// hub's dispatch goroutine may still be delivering snapshot changes through
// SendJSON, and a send racing a channel close would panic the process. The
// write loop exits on the cancelled context instead and late sends fail with
// the context error.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Connection) readLoop(hooks Hooks) error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		opcode, payload, err := readFrame(c.conn, c.opts.maxMessageSize)
		if err != nil {
			return err
		}

		switch opcode {
		case opcodeText:
			if err := c.handleText(payload, hooks); err != nil {
				c.closeWithFrame(closePolicyViolation, err.Error())
				return err
			}
		case opcodeBinary:
			c.closeWithFrame(closeUnsupportedData, "binary frames not supported")
			return fmt.Errorf("binary frames unsupported")
		case opcodeClose:
			c.closeWithFrame(closeNormalClosure, "bye")
			return nil
		case opcodePing:
			_ = c.enqueueControl(opcodePong, payload)
		case opcodePong:
			c.lastPong.Store(time.Now().UnixNano())
		case opcodeContinuation:
			return fmt.Errorf("fragmented frames not supported")
		default:
			return fmt.Errorf("unsupported opcode %d", opcode)
		}
	}
}

func (c *Connection) handleText(payload []byte, hooks Hooks) error {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.NS == "" {
		return fmt.Errorf("envelope without namespace")
	}

	messagesReceived.WithLabelValues(c.identity.Database, envelope.NS).Inc()

	if hooks.OnMessage != nil {
		ctx, span := tracer.Start(c.ctx, "ws.message")
		err := hooks.OnMessage(ctx, c, envelope)
		span.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			if err := writeFrame(c.conn, msg.opcode, msg.payload, c.opts.writeTimeout); err != nil {
				c.logger.Debug().Err(err).Msg("write loop error")
				c.closeWithFrame(closeInternalServerError, "write error")
				return
			}
		}
	}
}

func (c *Connection) heartbeatLoop() {
	if c.opts.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.enqueueControl(opcodePing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat ping failed")
				c.closeWithFrame(closeGoingAway, "ping failed")
				return
			}
			if c.opts.heartbeatTolerance > 0 {
				last := time.Unix(0, c.lastPong.Load())
				allowed := c.opts.heartbeatInterval * time.Duration(c.opts.heartbeatTolerance)
				if time.Since(last) > allowed {
					c.logger.Debug().Msg("heartbeat tolerance exceeded")
					c.closeWithFrame(closeGoingAway, "missed heartbeats")
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) closeWithFrame(code int, reason string) {
	payload := encodeClosePayload(code, reason)
	_ = c.enqueueControl(opcodeClose, payload)
}

func (c *Connection) enqueueControl(opcode byte, payload []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	msg := outboundMessage{opcode: opcode, payload: payload}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return errSendBufferFull
	}
}

type Hooks struct {
	OnConnect    ConnectHook
	OnMessage    MessageHook
	OnDisconnect DisconnectHook
}

type ConnectHook func(ctx context.Context, conn *Connection) error
type MessageHook func(ctx context.Context, conn *Connection, envelope Envelope) error
type DisconnectHook func(conn *Connection)

// ClientIdentity ties an upgraded connection to the database it
// authenticated against.
type ClientIdentity struct {
	Database string
	Session  *db.Session
}

func encodeClosePayload(code int, reason string) []byte {
	if len(reason) > 123 {
		reason = reason[:123]
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], []byte(reason))
	return payload
}
