// Package gateway serves the websocket endpoint live clients use to follow
// channel rooms. Sessions only join and leave rooms; every change event is
// produced server side after a committed REST mutation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"huddle/api/internal/app"
	"huddle/api/internal/auth"
	"huddle/api/internal/hub"
	"huddle/api/internal/session"
)

var errQueueClosed = errors.New("gateway: session queue closed")

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// RoomChecker decides whether a principal may join a channel's room.
type RoomChecker interface {
	CheckRoom(ctx context.Context, principal auth.Principal, channelID string) error
}

type Hub interface {
	RegisterUser(sessionID, userID string) *hub.Subscription
	Subscribe(sessionID, roomID string) error
	Unsubscribe(sessionID, roomID string)
	Close(sessionID string)
}

type Options struct {
	Auth           Authenticator
	Rooms          RoomChecker
	Hub            Hub
	Presence       session.Presence
	OriginPatterns []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	Logger         *zap.Logger
}

type Server struct {
	auth         Authenticator
	rooms        RoomChecker
	hub          Hub
	presence     session.Presence
	origins      []string
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Server{
		auth:         opts.Auth,
		rooms:        opts.Rooms,
		hub:          opts.Hub,
		presence:     opts.Presence,
		origins:      opts.OriginPatterns,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		log:          opts.Logger.Named("gateway"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	principal, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		var domainErr *app.DomainError
		if errors.As(err, &domainErr) {
			writeError(w, domainErr.Status, domainErr.Code, domainErr.Message)
			return
		}
		s.log.Error("authenticate session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error")
		return
	}
	if principal.IsDeleted {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Account is deleted")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.String("user", principal.UserID), zap.Error(err))
		return
	}
	s.serve(r.Context(), conn, principal)
}

type conn struct {
	id        string
	principal auth.Principal
	ws        *websocket.Conn
	sub       *hub.Subscription
	replies   chan Outbound
	log       *zap.Logger
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, principal auth.Principal) {
	c := &conn{
		id:        uuid.NewString(),
		principal: principal,
		ws:        ws,
		replies:   make(chan Outbound, 16),
	}
	c.log = s.log.With(zap.String("session", c.id), zap.String("user", principal.UserID))
	c.sub = s.hub.RegisterUser(c.id, principal.UserID)
	s.track(ctx, c)
	c.log.Info("session connected")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.readLoop(groupCtx, c) })
	group.Go(func() error { return s.writeLoop(groupCtx, c) })
	if s.pingInterval > 0 {
		group.Go(func() error { return s.pingLoop(groupCtx, c) })
	}
	err := group.Wait()

	s.hub.Close(c.id)
	if s.presence != nil {
		forgetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if ferr := s.presence.Forget(forgetCtx, principal.UserID, c.id); ferr != nil {
			c.log.Warn("forget presence", zap.Error(ferr))
		}
		cancel()
	}
	if isExpectedDisconnect(ctx, err) {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		c.log.Info("session disconnected")
		return
	}
	_ = ws.Close(websocket.StatusInternalError, "session error")
	c.log.Warn("session closed with error", zap.Error(err))
}

func (s *Server) track(ctx context.Context, c *conn) {
	if s.presence == nil {
		return
	}
	if err := s.presence.Track(ctx, c.principal.UserID, c.id); err != nil {
		c.log.Warn("track presence", zap.Error(err))
	}
}

func (s *Server) readLoop(ctx context.Context, c *conn) error {
	for {
		var in Inbound
		if err := wsjson.Read(ctx, c.ws, &in); err != nil {
			return err
		}
		reply := s.handle(ctx, c, in)
		select {
		case c.replies <- reply:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) handle(ctx context.Context, c *conn, in Inbound) Outbound {
	switch in.Type {
	case TypeJoinRoom, TypeLeaveRoom:
	default:
		c.log.Debug("rejected inbound frame", zap.String("type", in.Type))
		return errorFrame(CodeUnsupportedEvent, "unsupported event "+in.Type)
	}

	var payload RoomPayload
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &payload); err != nil {
			return errorFrame(CodeBadRequest, "invalid payload")
		}
	}
	room := strings.TrimSpace(payload.ChannelID)
	if room == "" {
		return errorFrame(CodeBadRequest, "channelId is required")
	}

	if in.Type == TypeLeaveRoom {
		s.hub.Unsubscribe(c.id, room)
		c.log.Debug("left room", zap.String("room", room))
		return Outbound{Type: TypeAck, Event: in.Type, Room: room}
	}

	if err := s.rooms.CheckRoom(ctx, c.principal, room); err != nil {
		reply := roomError(err, c.log)
		reply.Event, reply.Room = in.Type, room
		return reply
	}
	if err := s.hub.Subscribe(c.id, room); err != nil {
		c.log.Warn("subscribe", zap.String("room", room), zap.Error(err))
		reply := errorFrame(CodeInternal, "could not join room")
		reply.Event, reply.Room = in.Type, room
		return reply
	}
	c.log.Debug("joined room", zap.String("room", room))
	return Outbound{Type: TypeAck, Event: in.Type, Room: room}
}

func roomError(err error, log *zap.Logger) Outbound {
	switch {
	case app.IsCode(err, "NOT_FOUND"):
		return errorFrame(CodeNotFound, "channel not found")
	case app.IsCode(err, "FORBIDDEN"), app.IsCode(err, "UNAUTHORIZED"):
		return errorFrame(CodeForbidden, "not allowed")
	default:
		log.Error("check room", zap.Error(err))
		return errorFrame(CodeInternal, "could not join room")
	}
}

// writeLoop is the only writer on the connection, so event and reply
// frames never interleave mid-message.
func (s *Server) writeLoop(ctx context.Context, c *conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-c.sub.C:
			if !ok {
				return errQueueClosed
			}
			frame := Outbound{Type: TypeEvent, Event: evt.Type, Room: evt.Room, Data: evt.Data}
			if err := s.write(ctx, c, frame); err != nil {
				return err
			}
		case frame := <-c.replies:
			if err := s.write(ctx, c, frame); err != nil {
				return err
			}
		}
	}
}

func (s *Server) write(ctx context.Context, c *conn, frame Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, frame)
}

// pingLoop keeps idle connections open and refreshes presence.
func (s *Server) pingLoop(ctx context.Context, c *conn) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
			s.track(ctx, c)
		}
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "error": message})
}
