package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"huddle/api/internal/gateway"
)

var ErrNotConnected = errors.New("client: not connected")

type ConnConfig struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	AckTimeout        time.Duration
	ReconnectInterval time.Duration
	MaxReconnectDelay time.Duration
	// MaxReconnectTries of zero retries until the context ends.
	MaxReconnectTries int
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		AckTimeout:        5 * time.Second,
		ReconnectInterval: 200 * time.Millisecond,
		MaxReconnectDelay: 5 * time.Second,
	}
}

// Conn is the websocket side of a client. It redials after unexpected
// disconnects and reports each successful redial through OnReconnect.
type Conn struct {
	cfg ConnConfig
	log *zap.Logger

	mu          sync.Mutex
	ws          *websocket.Conn
	closed      bool
	waiters     map[ackKey][]chan error
	onFrame     func(gateway.Outbound)
	onReconnect func()
}

func NewConn(cfg ConnConfig, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{cfg: cfg, log: log.Named("conn"), waiters: make(map[ackKey][]chan error)}
}

// ackKey matches a room request to the ack or error frame answering it.
type ackKey struct {
	event string
	room  string
}

// OnFrame sets the handler for every inbound frame. It runs on the read
// goroutine.
func (c *Conn) OnFrame(fn func(gateway.Outbound)) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

// OnReconnect sets a hook run in its own goroutine after each redial.
func (c *Conn) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Connect dials once.
func (c *Conn) Connect(ctx context.Context) error {
	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return ws, nil
}

// Join subscribes to the channel's room and waits for the gateway's answer.
func (c *Conn) Join(ctx context.Context, channelID string) error {
	return c.request(ctx, gateway.TypeJoinRoom, channelID)
}

func (c *Conn) Leave(ctx context.Context, channelID string) error {
	return c.request(ctx, gateway.TypeLeaveRoom, channelID)
}

func (c *Conn) request(ctx context.Context, frameType, channelID string) error {
	data, err := json.Marshal(gateway.RoomPayload{ChannelID: channelID})
	if err != nil {
		return err
	}
	key := ackKey{event: frameType, room: channelID}
	done := make(chan error, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.waiters[key] = append(c.waiters[key], done)
	c.mu.Unlock()

	writeCtx := ctx
	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}
	if err := wsjson.Write(writeCtx, ws, gateway.Inbound{Type: frameType, Data: data}); err != nil {
		c.dropWaiter(key, done)
		return fmt.Errorf("write %s: %w", frameType, err)
	}

	timeout := c.cfg.AckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		c.dropWaiter(key, done)
		return fmt.Errorf("%s %s: no answer within %s", frameType, channelID, timeout)
	case <-ctx.Done():
		c.dropWaiter(key, done)
		return ctx.Err()
	}
}

func (c *Conn) dropWaiter(key ackKey, done chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiting := c.waiters[key]
	for i, ch := range waiting {
		if ch == done {
			waiting = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(c.waiters, key)
		return
	}
	c.waiters[key] = waiting
}

// resolve answers the oldest request waiting on frame's event and room.
func (c *Conn) resolve(frame gateway.Outbound) {
	var result error
	switch {
	case frame.Type == gateway.TypeAck:
	case frame.Type == gateway.TypeError && frame.Event != "" && frame.Error != nil:
		result = frame.Error
	default:
		return
	}
	key := ackKey{event: frame.Event, room: frame.Room}
	c.mu.Lock()
	waiting := c.waiters[key]
	if len(waiting) == 0 {
		c.mu.Unlock()
		return
	}
	done := waiting[0]
	if len(waiting) == 1 {
		delete(c.waiters, key)
	} else {
		c.waiters[key] = waiting[1:]
	}
	c.mu.Unlock()
	done <- result
}

// Run reads frames until ctx ends, redialing on unexpected disconnects.
func (c *Conn) Run(ctx context.Context) error {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return ErrNotConnected
		}

		err := c.readLoop(ctx, ws)
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if ctx.Err() != nil || closed {
			return nil
		}
		c.log.Warn("connection lost", zap.Error(err))
		_ = ws.CloseNow()

		if err := c.reconnect(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		c.mu.Lock()
		hook := c.onReconnect
		c.mu.Unlock()
		if hook != nil {
			go hook()
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var out gateway.Outbound
		if err := wsjson.Read(ctx, ws, &out); err != nil {
			return err
		}
		c.resolve(out)
		c.mu.Lock()
		handler := c.onFrame
		c.mu.Unlock()
		if handler != nil {
			handler(out)
		}
	}
}

func (c *Conn) reconnect(ctx context.Context) error {
	delay := c.cfg.ReconnectInterval
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		ws, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.mu.Unlock()
			c.log.Info("reconnected", zap.Int("attempt", attempt))
			return nil
		}
		c.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		if c.cfg.MaxReconnectTries > 0 && attempt >= c.cfg.MaxReconnectTries {
			return fmt.Errorf("reconnect: gave up after %d attempts: %w", attempt, err)
		}
		delay *= 2
		if c.cfg.MaxReconnectDelay > 0 && delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.closed = true
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "client close")
}
