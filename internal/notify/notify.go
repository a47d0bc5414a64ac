// Package notify renders the system-authored messages that record
// membership and role changes in a channel's history.
package notify

import (
	"fmt"

	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type Kind string

const (
	ChannelCreated Kind = "channel-created"
	MemberAdded    Kind = "member-added"
	MemberRemoved  Kind = "member-removed"
	MemberLeft     Kind = "member-left"
	AdminGranted   Kind = "admin-granted"
	AdminRevoked   Kind = "admin-revoked"
)

// Tombstone replaces the content of a soft-deleted message.
const Tombstone = "This message was deleted"

var templates = map[Kind]string{
	ChannelCreated: "%[1]s created the channel.",
	MemberAdded:    "%[1]s added %[2]s to the channel.",
	MemberRemoved:  "%[1]s removed %[2]s from the channel.",
	MemberLeft:     "%[1]s left the channel.",
	AdminGranted:   "%[1]s made %[2]s an admin.",
	AdminRevoked:   "%[1]s removed admin rights from %[2]s.",
}

// Text renders kind for the given actor and subject usernames. Kinds without
// a subject ignore it.
func Text(kind Kind, actor, subject string) (string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
	if kind == ChannelCreated || kind == MemberLeft {
		return fmt.Sprintf(tmpl, actor), nil
	}
	return fmt.Sprintf(tmpl, actor, subject), nil
}

// Recorder builds notification messages with fresh ids.
type Recorder struct {
	newID func() string
}

func NewRecorder() *Recorder {
	return &Recorder{newID: util.NewMessageID}
}

// Message returns an unsaved notification authored by actor. The store
// assigns the channel timestamp on insert.
func (r *Recorder) Message(kind Kind, channelID string, actor store.User, subject string) (store.Message, error) {
	text, err := Text(kind, actor.Username, subject)
	if err != nil {
		return store.Message{}, err
	}
	return store.Message{
		ID:             r.newID(),
		ChannelID:      channelID,
		AuthorID:       actor.ID,
		AuthorName:     actor.Username,
		Content:        text,
		IsNotification: true,
	}, nil
}
