package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/api/internal/app"
	"huddle/api/internal/gateway"
)

type fakeRooms struct {
	joined []string
	left   []string
	err    error
}

func (f *fakeRooms) Join(_ context.Context, id string) error {
	f.joined = append(f.joined, id)
	return f.err
}

func (f *fakeRooms) Leave(_ context.Context, id string) error {
	f.left = append(f.left, id)
	return nil
}

// fakeReader serves a fixed channel; onFetch runs in the middle of a mount.
type fakeReader struct {
	channel  app.ChannelView
	members  []app.MemberView
	isAdmin  bool
	history  []app.MessagePayload
	onFetch  func()
	fetchErr error
	fetches  int
}

func (f *fakeReader) Channel(context.Context, string) (app.ChannelView, error) {
	f.fetches++
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.channel, f.fetchErr
}

func (f *fakeReader) Members(context.Context, string) ([]app.MemberView, error) {
	return f.members, nil
}

func (f *fakeReader) IsAdmin(context.Context, string) (bool, error) {
	return f.isAdmin, nil
}

func (f *fakeReader) Messages(context.Context, string) ([]app.MessagePayload, error) {
	return f.history, nil
}

func eventFrame(t *testing.T, room, event string, payload any) gateway.Outbound {
	return gateway.Outbound{Type: gateway.TypeEvent, Event: event, Room: room, Data: raw(t, payload)}
}

func newReader() *fakeReader {
	return &fakeReader{
		channel: app.ChannelView{ID: "chn_1", Name: "general", Users: []string{"usr_a", "usr_b"}, Creator: "usr_a", Administrators: []string{"usr_a"}},
		members: []app.MemberView{{UserID: "usr_a", Username: "alice", IsAdmin: true}, {UserID: "usr_b", Username: "bob"}},
		history: []app.MessagePayload{{ID: "m1", Content: "alice created the channel.", IsNotification: true}},
	}
}

func TestViewMountJoinsAndSeeds(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	view := NewView("chn_1", "usr_b", reader, rooms, nil)
	assert.Equal(t, StateUnloaded, view.State())

	require.NoError(t, view.Mount(context.Background()))

	snap := view.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, []string{"chn_1"}, rooms.joined)
	assert.Equal(t, "general", snap.Name)
	assert.Equal(t, []string{"usr_a", "usr_b"}, snap.Members)
	assert.Equal(t, "bob", snap.Names["usr_b"])
	assert.Len(t, snap.Messages, 1)
	assert.False(t, snap.ViewerIsAdmin)
}

func TestViewBuffersEventsWhileLoading(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	view := NewView("chn_1", "usr_b", reader, rooms, nil)
	reader.onFetch = func() {
		assert.Equal(t, StateLoading, view.State())
		view.Handle(eventFrame(t, "chn_1", app.EventNewMessage, app.MessagePayload{ID: "m2", Content: "during load"}))
		view.Handle(eventFrame(t, "chn_1", app.EventNewMessage, app.MessagePayload{ID: "m1", Content: "duplicate of history"}))
		view.Handle(eventFrame(t, "chn_1", app.EventMakeAdmin, app.MessagePayload{ID: "m3", NewAdmin: "usr_b"}))
	}

	require.NoError(t, view.Mount(context.Background()))

	snap := view.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "alice created the channel.", snap.Messages[0].Content)
	assert.Equal(t, "during load", snap.Messages[1].Content)
	assert.True(t, snap.ViewerIsAdmin)
}

func TestViewIgnoresOtherRoomsAndUnloadedState(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	view := NewView("chn_1", "usr_b", reader, rooms, nil)

	view.Handle(eventFrame(t, "chn_1", app.EventNewMessage, app.MessagePayload{ID: "early"}))
	require.NoError(t, view.Mount(context.Background()))
	view.Handle(eventFrame(t, "chn_2", app.EventNewMessage, app.MessagePayload{ID: "elsewhere"}))
	view.Handle(gateway.Outbound{Type: gateway.TypeAck, Event: gateway.TypeJoinRoom, Room: "chn_1"})

	assert.Len(t, view.Snapshot().Messages, 1)
}

func TestViewRemountRefetches(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	view := NewView("chn_1", "usr_b", reader, rooms, nil)
	ctx := context.Background()
	require.NoError(t, view.Mount(ctx))

	reader.history = append(reader.history, app.MessagePayload{ID: "m9", Content: "missed while offline"})
	require.NoError(t, view.Mount(ctx))

	assert.Equal(t, 2, reader.fetches)
	assert.Len(t, view.Snapshot().Messages, 2)
	assert.Equal(t, []string{"chn_1", "chn_1"}, rooms.joined)
}

func TestViewMountFailureReturnsToUnloaded(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	reader.fetchErr = errors.New("boom")
	view := NewView("chn_1", "usr_b", reader, rooms, nil)

	require.Error(t, view.Mount(context.Background()))
	assert.Equal(t, StateUnloaded, view.State())
	assert.Equal(t, []string{"chn_1"}, rooms.left, "a failed load leaves the joined room")

	rooms.err = errors.New("offline")
	reader.fetchErr = nil
	require.Error(t, view.Mount(context.Background()))
	assert.Equal(t, StateUnloaded, view.State())
	assert.Len(t, rooms.left, 1, "a failed join has nothing to leave")
}

func TestViewUnmountLeavesRoom(t *testing.T) {
	reader, rooms := newReader(), &fakeRooms{}
	view := NewView("chn_1", "usr_b", reader, rooms, nil)
	ctx := context.Background()
	require.NoError(t, view.Mount(ctx))

	require.NoError(t, view.Unmount(ctx))
	assert.Equal(t, StateUnloaded, view.State())
	assert.Equal(t, []string{"chn_1"}, rooms.left)
}
