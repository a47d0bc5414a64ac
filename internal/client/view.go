package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"huddle/api/internal/app"
	"huddle/api/internal/gateway"
)

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

type channelReader interface {
	Channel(ctx context.Context, channelID string) (app.ChannelView, error)
	Members(ctx context.Context, channelID string) ([]app.MemberView, error)
	IsAdmin(ctx context.Context, channelID string) (bool, error)
	Messages(ctx context.Context, channelID string) ([]app.MessagePayload, error)
}

type roomJoiner interface {
	Join(ctx context.Context, channelID string) error
	Leave(ctx context.Context, channelID string) error
}

// View follows one open channel. Events that arrive while it is loading are
// buffered and replayed on top of the fetched state.
type View struct {
	channelID string
	viewer    string
	rest      channelReader
	rooms     roomJoiner
	log       *zap.Logger

	mu      sync.Mutex
	state   State
	proj    *Projection
	names   map[string]string
	pending []gateway.Outbound
}

func NewView(channelID, viewer string, rest channelReader, rooms roomJoiner, log *zap.Logger) *View {
	if log == nil {
		log = zap.NewNop()
	}
	return &View{
		channelID: channelID,
		viewer:    viewer,
		rest:      rest,
		rooms:     rooms,
		log:       log.Named("view").With(zap.String("channel", channelID)),
		proj:      NewProjection(viewer),
		names:     make(map[string]string),
	}
}

func (v *View) ChannelID() string { return v.channelID }

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mount joins the room first so nothing published during the fetch is
// missed, then loads the channel over REST. Mounting a ready view again
// re-fetches everything.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	v.state = StateLoading
	v.pending = nil
	v.mu.Unlock()

	if err := v.rooms.Join(ctx, v.channelID); err != nil {
		v.reset()
		return fmt.Errorf("join room: %w", err)
	}
	seed, err := v.load(ctx)
	if err != nil {
		v.reset()
		if lerr := v.rooms.Leave(ctx, v.channelID); lerr != nil {
			v.log.Debug("leave after failed mount", zap.Error(lerr))
		}
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoading {
		return nil
	}
	proj := NewProjection(v.viewer)
	proj.Seed(seed.channel, seed.history, seed.isAdmin)
	for _, m := range seed.members {
		v.names[m.UserID] = m.Username
	}
	for _, frame := range v.pending {
		v.apply(proj, frame)
	}
	v.proj = proj
	v.pending = nil
	v.state = StateReady
	return nil
}

type viewSeed struct {
	channel app.ChannelView
	members []app.MemberView
	isAdmin bool
	history []app.MessagePayload
}

func (v *View) load(ctx context.Context) (viewSeed, error) {
	var (
		seed viewSeed
		err  error
	)
	if seed.channel, err = v.rest.Channel(ctx, v.channelID); err != nil {
		return viewSeed{}, fmt.Errorf("load channel: %w", err)
	}
	if seed.members, err = v.rest.Members(ctx, v.channelID); err != nil {
		return viewSeed{}, fmt.Errorf("load members: %w", err)
	}
	if seed.isAdmin, err = v.rest.IsAdmin(ctx, v.channelID); err != nil {
		return viewSeed{}, fmt.Errorf("load admin flag: %w", err)
	}
	if seed.history, err = v.rest.Messages(ctx, v.channelID); err != nil {
		return viewSeed{}, fmt.Errorf("load messages: %w", err)
	}
	return seed, nil
}

func (v *View) reset() {
	v.mu.Lock()
	v.state = StateUnloaded
	v.pending = nil
	v.mu.Unlock()
}

// Unmount leaves the room and drops back to Unloaded.
func (v *View) Unmount(ctx context.Context) error {
	v.reset()
	return v.rooms.Leave(ctx, v.channelID)
}

// Handle routes one event frame into the view.
func (v *View) Handle(frame gateway.Outbound) {
	if frame.Type != gateway.TypeEvent || frame.Room != v.channelID {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case StateLoading:
		v.pending = append(v.pending, frame)
	case StateReady:
		v.apply(v.proj, frame)
	}
}

func (v *View) apply(proj *Projection, frame gateway.Outbound) {
	if err := proj.Apply(frame.Event, frame.Data); err != nil {
		v.log.Warn("dropped event", zap.String("event", frame.Event), zap.Error(err))
	}
}

// Snapshot is a copy of the view's state safe to hand to rendering code.
type Snapshot struct {
	State         State
	Name          string
	Creator       string
	Messages      []app.MessagePayload
	Members       []string
	Admins        []string
	ViewerIsAdmin bool
	ViewerRemoved bool

	// Names maps member ids to usernames as of the last fetch.
	Names map[string]string
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make(map[string]string, len(v.names))
	for id, name := range v.names {
		names[id] = name
	}
	return Snapshot{
		State:         v.state,
		Name:          v.proj.Name(),
		Creator:       v.proj.Creator(),
		Messages:      v.proj.Messages(),
		Members:       v.proj.Members(),
		Admins:        v.proj.Admins(),
		Names:         names,
		ViewerIsAdmin: v.proj.ViewerIsAdmin(),
		ViewerRemoved: v.proj.ViewerRemoved(),
	}
}
