package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/api/internal/store"
)

func TestText(t *testing.T) {
	cases := []struct {
		kind    Kind
		subject string
		want    string
	}{
		{ChannelCreated, "", "alice created the channel."},
		{MemberAdded, "bob", "alice added bob to the channel."},
		{MemberRemoved, "bob", "alice removed bob from the channel."},
		{MemberLeft, "ignored", "alice left the channel."},
		{AdminGranted, "bob", "alice made bob an admin."},
		{AdminRevoked, "bob", "alice removed admin rights from bob."},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			got, err := Text(tc.kind, "alice", tc.subject)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			again, _ := Text(tc.kind, "alice", tc.subject)
			assert.Equal(t, got, again)
		})
	}
}

func TestTextUnknownKind(t *testing.T) {
	_, err := Text(Kind("renamed"), "alice", "")
	assert.Error(t, err)
}

func TestRecorderMessage(t *testing.T) {
	r := &Recorder{newID: func() string { return "msg-1" }}
	actor := store.User{ID: "usr_a", Username: "alice"}

	msg, err := r.Message(MemberAdded, "chn_1", actor, "bob")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "chn_1", msg.ChannelID)
	assert.Equal(t, "usr_a", msg.AuthorID)
	assert.Equal(t, "alice", msg.AuthorName)
	assert.Equal(t, "alice added bob to the channel.", msg.Content)
	assert.True(t, msg.IsNotification)
	assert.Nil(t, msg.File)
}
