package app

import (
	"time"

	"huddle/api/internal/store"
)

// Wire names of the change events fanned out to a channel's room.
const (
	EventNewMessage    = "new-message"
	EventAddMember     = "add-member"
	EventRemoveMember  = "remove-member"
	EventMakeAdmin     = "make-admin"
	EventRemoveAdmin   = "remove-admin"
	EventDeleteMessage = "delete-message"
	EventEditMessage   = "edit-message"
)

type FilePayload struct {
	ID       string `json:"_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// MessagePayload is a message record as clients see it, in history and in
// events. Exactly one subject field is set on membership and role events.
type MessagePayload struct {
	ID             string       `json:"_id"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	User           string       `json:"user"`
	Username       string       `json:"username"`
	Channel        string       `json:"channel"`
	IsNotification bool         `json:"isNotification"`
	Deleted        bool         `json:"deleted"`
	File           *FilePayload `json:"file,omitempty"`

	NewMember     string `json:"newMember,omitempty"`
	RemovedMember string `json:"removedMember,omitempty"`
	NewAdmin      string `json:"newAdmin,omitempty"`
	RemovedAdmin  string `json:"removedAdmin,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
}

type DeletePayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// MutationResult is what a state transition hands back to its caller: a
// short human summary and the payload that was published.
type MutationResult struct {
	Summary string
	Event   string
	Data    any
}

type ChannelView struct {
	ID             string   `json:"_id"`
	Name           string   `json:"name"`
	Users          []string `json:"users"`
	Creator        string   `json:"creator"`
	Administrators []string `json:"administrators"`
}

type ChannelListItem struct {
	ID          string          `json:"_id"`
	Name        string          `json:"name"`
	LastMessage *MessagePayload `json:"lastMessage"`
}

type MemberView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Online   bool   `json:"online"`
}

func payloadFromMessage(msg store.Message) MessagePayload {
	p := MessagePayload{
		ID:             msg.ID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
		User:           msg.AuthorID,
		Username:       msg.AuthorName,
		Channel:        msg.ChannelID,
		IsNotification: msg.IsNotification,
		Deleted:        msg.Deleted,
	}
	if msg.File != nil {
		p.File = &FilePayload{
			ID:       msg.File.ID,
			Filename: msg.File.Filename,
			MimeType: msg.File.MimeType,
			Size:     msg.File.Size,
			URL:      msg.File.URL,
		}
	}
	return p
}

func channelView(ch store.Channel) ChannelView {
	return ChannelView{
		ID:             ch.ID,
		Name:           ch.Name,
		Users:          ch.Users,
		Creator:        ch.Creator,
		Administrators: ch.Administrators,
	}
}
