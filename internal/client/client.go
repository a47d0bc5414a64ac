// Package client keeps a local, event-driven copy of the channels a user has
// open. It seeds each view over REST and then follows the channel's room on
// the websocket gateway.
package client

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"huddle/api/internal/gateway"
)

type Config struct {
	// BaseURL is the HTTP API root, e.g. http://localhost:8787.
	BaseURL string
	// WSURL defaults to BaseURL with a ws scheme and a /ws path.
	WSURL  string
	Token  string
	Viewer string
	Conn   ConnConfig
	Logger *zap.Logger
}

type Client struct {
	viewer string
	rest   *REST
	conn   *Conn
	log    *zap.Logger

	mu    sync.Mutex
	views map[string]*View
	// resync outlives the Connect call so reconnect re-mounts can run.
	resync context.Context
	errs   []gateway.Error
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	connCfg := cfg.Conn
	if connCfg.URL == "" {
		connCfg.URL = cfg.WSURL
	}
	if connCfg.URL == "" {
		connCfg.URL = wsURL(cfg.BaseURL)
	}
	connCfg.Token = cfg.Token

	c := &Client{
		viewer: cfg.Viewer,
		rest:   NewREST(strings.TrimRight(cfg.BaseURL, "/"), cfg.Token),
		conn:   NewConn(connCfg, cfg.Logger),
		log:    cfg.Logger.Named("client"),
		views:  make(map[string]*View),
		resync: context.Background(),
	}
	c.conn.OnFrame(c.dispatch)
	c.conn.OnReconnect(c.remountAll)
	return c
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (c *Client) REST() *REST { return c.rest }

// Connect dials the gateway and reads frames in the background until ctx
// ends or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.resync = ctx
	c.mu.Unlock()
	go func() {
		if err := c.conn.Run(ctx); err != nil {
			c.log.Warn("connection stopped", zap.Error(err))
		}
	}()
	return nil
}

// Open mounts a view for channelID, reusing an existing one.
func (c *Client) Open(ctx context.Context, channelID string) (*View, error) {
	c.mu.Lock()
	view, ok := c.views[channelID]
	if !ok {
		view = NewView(channelID, c.viewer, c.rest, c.conn, c.log)
		c.views[channelID] = view
	}
	c.mu.Unlock()

	if err := view.Mount(ctx); err != nil {
		c.mu.Lock()
		if !ok {
			delete(c.views, channelID)
		}
		c.mu.Unlock()
		return nil, err
	}
	return view, nil
}

// CloseView unmounts and forgets the view for channelID.
func (c *Client) CloseView(ctx context.Context, channelID string) error {
	c.mu.Lock()
	view, ok := c.views[channelID]
	delete(c.views, channelID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return view.Unmount(ctx)
}

// Errors returns the error frames received so far.
func (c *Client) Errors() []gateway.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]gateway.Error(nil), c.errs...)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) dispatch(frame gateway.Outbound) {
	switch frame.Type {
	case gateway.TypeError:
		if frame.Error != nil {
			c.log.Warn("gateway error", zap.String("code", frame.Error.Code), zap.String("msg", frame.Error.Msg))
			c.mu.Lock()
			c.errs = append(c.errs, *frame.Error)
			c.mu.Unlock()
		}
	case gateway.TypeEvent:
		c.mu.Lock()
		view := c.views[frame.Room]
		c.mu.Unlock()
		if view != nil {
			view.Handle(frame)
		}
	}
}

// remountAll re-fetches every open view after a reconnect; events missed
// while disconnected are never replayed by the server.
func (c *Client) remountAll() {
	c.mu.Lock()
	ctx := c.resync
	views := make([]*View, 0, len(c.views))
	for _, view := range c.views {
		views = append(views, view)
	}
	c.mu.Unlock()

	for _, view := range views {
		if err := view.Mount(ctx); err != nil {
			c.log.Warn("remount failed", zap.String("channel", view.ChannelID()), zap.Error(err))
		}
	}
}
