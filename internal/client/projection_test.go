package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/api/internal/app"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func seeded(t *testing.T, viewer string) *Projection {
	t.Helper()
	p := NewProjection(viewer)
	p.Seed(app.ChannelView{
		ID:             "chn_1",
		Name:           "general",
		Users:          []string{"usr_a", "usr_b"},
		Creator:        "usr_a",
		Administrators: []string{"usr_a"},
	}, []app.MessagePayload{
		{ID: "m1", Content: "a created the channel.", IsNotification: true, User: "usr_a"},
	}, viewer == "usr_a")
	return p
}

func TestProjectionDeduplicatesMessages(t *testing.T) {
	p := seeded(t, "usr_b")
	msg := app.MessagePayload{ID: "m2", Content: "hi", User: "usr_a"}

	require.NoError(t, p.Apply(app.EventNewMessage, raw(t, msg)))
	require.NoError(t, p.Apply(app.EventNewMessage, raw(t, msg)))
	require.NoError(t, p.Apply(app.EventNewMessage, raw(t, app.MessagePayload{ID: "m1", Content: "again"})))

	messages := p.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "a created the channel.", messages[0].Content)
	assert.Equal(t, "hi", messages[1].Content)
}

func TestProjectionMembershipReducers(t *testing.T) {
	p := seeded(t, "usr_a")

	require.NoError(t, p.Apply(app.EventAddMember, raw(t, app.MessagePayload{ID: "m2", Content: "a added c to the channel.", IsNotification: true, NewMember: "usr_c"})))
	assert.Equal(t, []string{"usr_a", "usr_b", "usr_c"}, p.Members())

	require.NoError(t, p.Apply(app.EventMakeAdmin, raw(t, app.MessagePayload{ID: "m3", NewAdmin: "usr_c"})))
	assert.Equal(t, []string{"usr_a", "usr_c"}, p.Admins())

	require.NoError(t, p.Apply(app.EventRemoveMember, raw(t, app.MessagePayload{ID: "m4", RemovedMember: "usr_c"})))
	assert.Equal(t, []string{"usr_a", "usr_b"}, p.Members())
	assert.Equal(t, []string{"usr_a"}, p.Admins())
	for _, admin := range p.Admins() {
		assert.True(t, p.IsMember(admin))
	}
	assert.Len(t, p.Messages(), 4)
	assert.Empty(t, p.Messages()[1].NewMember)
}

func TestProjectionViewerAdminFlag(t *testing.T) {
	p := seeded(t, "usr_b")
	assert.False(t, p.ViewerIsAdmin())

	require.NoError(t, p.Apply(app.EventMakeAdmin, raw(t, app.MessagePayload{ID: "m2", NewAdmin: "usr_c"})))
	assert.False(t, p.ViewerIsAdmin(), "flag only flips for the viewer")

	require.NoError(t, p.Apply(app.EventMakeAdmin, raw(t, app.MessagePayload{ID: "m3", NewAdmin: "usr_b"})))
	assert.True(t, p.ViewerIsAdmin())

	require.NoError(t, p.Apply(app.EventRemoveAdmin, raw(t, app.MessagePayload{ID: "m4", RemovedAdmin: "usr_b"})))
	assert.False(t, p.ViewerIsAdmin())
}

func TestProjectionViewerRemoved(t *testing.T) {
	p := seeded(t, "usr_a")
	require.True(t, p.ViewerIsAdmin())
	assert.False(t, p.ViewerRemoved())

	require.NoError(t, p.Apply(app.EventRemoveMember, raw(t, app.MessagePayload{ID: "m2", RemovedMember: "usr_a"})))
	assert.True(t, p.ViewerRemoved())
	assert.False(t, p.ViewerIsAdmin())
	assert.False(t, p.IsAdmin("usr_a"))
}

func TestProjectionDeleteAndEdit(t *testing.T) {
	p := seeded(t, "usr_b")
	require.NoError(t, p.Apply(app.EventNewMessage, raw(t, app.MessagePayload{ID: "m2", Content: "draft", User: "usr_b"})))

	require.NoError(t, p.Apply(app.EventEditMessage, raw(t, app.MessagePayload{ID: "m2", MessageID: "m2", Content: "final"})))
	msg, ok := p.Message("m2")
	require.True(t, ok)
	assert.Equal(t, "final", msg.Content)

	require.NoError(t, p.Apply(app.EventDeleteMessage, raw(t, app.DeletePayload{ChannelID: "chn_1", MessageID: "m2"})))
	msg, _ = p.Message("m2")
	assert.True(t, msg.Deleted)
	assert.Equal(t, "This message was deleted", msg.Content)

	require.NoError(t, p.Apply(app.EventEditMessage, raw(t, app.MessagePayload{ID: "m2", MessageID: "m2", Content: "zombie"})))
	msg, _ = p.Message("m2")
	assert.Equal(t, "This message was deleted", msg.Content)

	require.NoError(t, p.Apply(app.EventDeleteMessage, raw(t, app.DeletePayload{ChannelID: "chn_1", MessageID: "unknown"})))
}

func TestProjectionRejectsUnknownEvents(t *testing.T) {
	p := seeded(t, "usr_b")
	assert.Error(t, p.Apply("typing", raw(t, map[string]string{})))
	assert.Error(t, p.Apply(app.EventNewMessage, json.RawMessage(`{`)))
}
