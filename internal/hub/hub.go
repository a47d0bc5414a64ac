// Package hub fans change events out to the live sessions subscribed to a
// channel's room.
//
// Delivery is best effort. Each session owns a bounded queue; an event that
// does not fit is dropped for that session only. Events published to one
// room reach a given session in publish order. There is no ordering across
// rooms and no replay for sessions that subscribe later.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrUnknownSession = errors.New("hub: unknown session")

// Event is one change event as it travels through the hub and over the wire.
// Attach and Detach name a user whose sessions join the room before delivery
// or leave it after delivery, on every instance the event reaches.
type Event struct {
	Room   string          `json:"room"`
	Type   string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Attach string          `json:"attach,omitempty"`
	Detach string          `json:"detach,omitempty"`
}

type PublishOption func(*Event)

// Attach subscribes every session of userID to the room before the event is
// delivered, so a newly added member hears about it.
func Attach(userID string) PublishOption {
	return func(evt *Event) { evt.Attach = userID }
}

// Detach unsubscribes every session of userID from the room once the event
// is queued for them.
func Detach(userID string) PublishOption {
	return func(evt *Event) { evt.Detach = userID }
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Publish(ctx context.Context, evt Event) error
}

type Options struct {
	Shards    int
	QueueSize int
	Logger    *zap.Logger
	OnDropped func(sessionID string, evt Event)
}

type Stats struct {
	Sessions int
	Rooms    int
	Dropped  uint64
}

// Subscription is the receive side of a registered session. C is closed
// when the session is closed.
type Subscription struct {
	ID string
	C  <-chan Event
}

type session struct {
	id     string
	user   string
	mu     sync.Mutex
	queue  chan Event
	rooms  map[string]struct{}
	closed bool
}

type room struct {
	mu      sync.Mutex
	members map[string]*session
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type Hub struct {
	log       *zap.Logger
	queueSize int
	shards    []*shard
	onDropped func(string, Event)

	mu       sync.RWMutex
	sessions map[string]*session
	byUser   map[string]map[string]struct{}

	relayMu sync.RWMutex
	relay   Relay

	dropped atomic.Uint64
}

func New(opts Options) *Hub {
	if opts.Shards <= 0 {
		opts.Shards = 32
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Hub{
		log:       opts.Logger.Named("hub"),
		queueSize: opts.QueueSize,
		shards:    make([]*shard, opts.Shards),
		onDropped: opts.OnDropped,
		sessions:  make(map[string]*session),
		byUser:    make(map[string]map[string]struct{}),
	}
	for i := range h.shards {
		h.shards[i] = &shard{rooms: make(map[string]*room)}
	}
	return h
}

// SetRelay attaches a cross-instance relay. Passing nil detaches it.
func (h *Hub) SetRelay(relay Relay) {
	h.relayMu.Lock()
	h.relay = relay
	h.relayMu.Unlock()
}

func (h *Hub) shardFor(roomID string) *shard {
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(roomID))
	return h.shards[sum.Sum32()%uint32(len(h.shards))]
}

// Register creates the queue for an anonymous session. Registering a live id
// again returns the existing subscription.
func (h *Hub) Register(sessionID string) *Subscription {
	return h.RegisterUser(sessionID, "")
}

// RegisterUser creates the queue for a session owned by userID, making it
// reachable by Attach and Detach.
func (h *Hub) RegisterUser(sessionID, userID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return &Subscription{ID: sessionID, C: s.queue}
	}
	s := &session{
		id:    sessionID,
		user:  userID,
		queue: make(chan Event, h.queueSize),
		rooms: make(map[string]struct{}),
	}
	h.sessions[sessionID] = s
	if userID != "" {
		if h.byUser[userID] == nil {
			h.byUser[userID] = make(map[string]struct{})
		}
		h.byUser[userID][sessionID] = struct{}{}
	}
	return &Subscription{ID: sessionID, C: s.queue}
}

func (h *Hub) sessionsOf(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.byUser[userID]))
	for id := range h.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) lookup(sessionID string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Subscribe adds the session to a room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(sessionID, roomID string) error {
	s, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnknownSession
	}
	if _, ok := s.rooms[roomID]; ok {
		return nil
	}

	sh := h.shardFor(roomID)
	sh.mu.Lock()
	r, ok := sh.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]*session)}
		sh.rooms[roomID] = r
	}
	r.mu.Lock()
	r.members[sessionID] = s
	r.mu.Unlock()
	sh.mu.Unlock()

	s.rooms[roomID] = struct{}{}
	return nil
}

// Unsubscribe removes the session from a room. Unknown sessions and rooms
// are ignored.
func (h *Hub) Unsubscribe(sessionID, roomID string) {
	s, err := h.lookup(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return
	}
	h.leaveLocked(s, roomID)
}

func (h *Hub) leaveLocked(s *session, roomID string) {
	sh := h.shardFor(roomID)
	sh.mu.Lock()
	if r, ok := sh.rooms[roomID]; ok {
		r.mu.Lock()
		delete(r.members, s.id)
		empty := len(r.members) == 0
		r.mu.Unlock()
		if empty {
			delete(sh.rooms, roomID)
		}
	}
	sh.mu.Unlock()
	delete(s.rooms, roomID)
}

// Rooms lists the rooms a session is subscribed to.
func (h *Hub) Rooms(sessionID string) []string {
	s, err := h.lookup(sessionID)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		items = append(items, id)
	}
	return items
}

// Close drops every room the session holds and closes its queue.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if ok && s.user != "" {
		delete(h.byUser[s.user], sessionID)
		if len(h.byUser[s.user]) == 0 {
			delete(h.byUser, s.user)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for roomID := range s.rooms {
		h.leaveLocked(s, roomID)
	}
	s.closed = true
	close(s.queue)
}

// Publish delivers an event to every session subscribed to the room right
// now, including the publisher's own sessions, then hands it to the relay.
// It returns the number of local sessions that accepted the event.
func (h *Hub) Publish(ctx context.Context, roomID, eventType string, payload any, opts ...PublishOption) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	evt := Event{Room: roomID, Type: eventType, Data: data}
	for _, opt := range opts {
		opt(&evt)
	}
	delivered := h.Deliver(evt)

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, evt); err != nil {
			h.log.Warn("relay publish failed", zap.String("room", roomID), zap.String("event", eventType), zap.Error(err))
		}
	}
	return delivered, nil
}

// Deliver fans evt out to local subscribers only. Relays call it for events
// that originated on another instance.
func (h *Hub) Deliver(evt Event) int {
	if evt.Attach != "" {
		for _, id := range h.sessionsOf(evt.Attach) {
			_ = h.Subscribe(id, evt.Room)
		}
	}
	delivered := h.fanOut(evt)
	if evt.Detach != "" {
		for _, id := range h.sessionsOf(evt.Detach) {
			h.Unsubscribe(id, evt.Room)
		}
	}
	return delivered
}

func (h *Hub) fanOut(evt Event) int {
	sh := h.shardFor(evt.Room)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.rooms[evt.Room]
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for id, s := range r.members {
		select {
		case s.queue <- evt:
			delivered++
		default:
			h.dropped.Add(1)
			h.log.Warn("session queue full, event dropped",
				zap.String("session", id),
				zap.String("room", evt.Room),
				zap.String("event", evt.Type))
			if h.onDropped != nil {
				h.onDropped(id, evt)
			}
		}
	}
	return delivered
}

// Subscribers reports how many sessions are in a room.
func (h *Hub) Subscribers(roomID string) int {
	sh := h.shardFor(roomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.rooms[roomID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	stats := Stats{Sessions: len(h.sessions), Dropped: h.dropped.Load()}
	h.mu.RUnlock()
	for _, sh := range h.shards {
		sh.mu.RLock()
		stats.Rooms += len(sh.rooms)
		sh.mu.RUnlock()
	}
	return stats
}
