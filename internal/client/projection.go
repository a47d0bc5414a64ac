package client

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"huddle/api/internal/app"
	"huddle/api/internal/notify"
)

// Projection is the single local model of one channel as a viewer sees it.
// Every live event goes through Apply; nothing else mutates it.
type Projection struct {
	viewer    string
	channelID string
	name      string
	creator   string

	messages []app.MessagePayload
	index    map[string]int
	members  map[string]struct{}
	admins   map[string]struct{}

	viewerIsAdmin bool
	viewerRemoved bool
}

func NewProjection(viewer string) *Projection {
	return &Projection{
		viewer:  viewer,
		index:   make(map[string]int),
		members: make(map[string]struct{}),
		admins:  make(map[string]struct{}),
	}
}

// Seed replaces the projection with freshly fetched state.
func (p *Projection) Seed(ch app.ChannelView, history []app.MessagePayload, viewerIsAdmin bool) {
	p.channelID = ch.ID
	p.name = ch.Name
	p.creator = ch.Creator
	p.messages = nil
	p.index = make(map[string]int, len(history))
	p.members = lo.SliceToMap(ch.Users, func(id string) (string, struct{}) { return id, struct{}{} })
	p.admins = lo.SliceToMap(ch.Administrators, func(id string) (string, struct{}) { return id, struct{}{} })
	for _, msg := range history {
		p.appendMessage(msg)
	}
	_, member := p.members[p.viewer]
	p.viewerRemoved = !member
	p.viewerIsAdmin = viewerIsAdmin
}

// Apply reduces one live event into the projection. Replayed events are
// harmless: messages are keyed by id and set updates are idempotent.
func (p *Projection) Apply(event string, data json.RawMessage) error {
	switch event {
	case app.EventDeleteMessage:
		var payload app.DeletePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		p.markDeleted(payload.MessageID)
		return nil
	case app.EventNewMessage, app.EventAddMember, app.EventRemoveMember,
		app.EventMakeAdmin, app.EventRemoveAdmin, app.EventEditMessage:
	default:
		return fmt.Errorf("unknown event %q", event)
	}

	var msg app.MessagePayload
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}

	switch event {
	case app.EventNewMessage:
		p.appendMessage(msg)
	case app.EventEditMessage:
		p.edit(msg)
	case app.EventAddMember:
		p.appendMessage(msg)
		p.members[msg.NewMember] = struct{}{}
		if msg.NewMember == p.viewer {
			p.viewerRemoved = false
		}
	case app.EventRemoveMember:
		p.appendMessage(msg)
		delete(p.members, msg.RemovedMember)
		delete(p.admins, msg.RemovedMember)
		if msg.RemovedMember == p.viewer {
			p.viewerRemoved = true
			p.viewerIsAdmin = false
		}
	case app.EventMakeAdmin:
		p.appendMessage(msg)
		p.admins[msg.NewAdmin] = struct{}{}
		if msg.NewAdmin == p.viewer {
			p.viewerIsAdmin = true
		}
	case app.EventRemoveAdmin:
		p.appendMessage(msg)
		delete(p.admins, msg.RemovedAdmin)
		if msg.RemovedAdmin == p.viewer {
			p.viewerIsAdmin = false
		}
	}
	return nil
}

func (p *Projection) appendMessage(msg app.MessagePayload) {
	if msg.ID == "" {
		return
	}
	if _, seen := p.index[msg.ID]; seen {
		return
	}
	msg.NewMember, msg.RemovedMember, msg.NewAdmin, msg.RemovedAdmin, msg.MessageID = "", "", "", "", ""
	p.index[msg.ID] = len(p.messages)
	p.messages = append(p.messages, msg)
}

func (p *Projection) markDeleted(id string) {
	i, ok := p.index[id]
	if !ok {
		return
	}
	p.messages[i].Deleted = true
	p.messages[i].Content = notify.Tombstone
	p.messages[i].File = nil
}

func (p *Projection) edit(msg app.MessagePayload) {
	id := msg.MessageID
	if id == "" {
		id = msg.ID
	}
	i, ok := p.index[id]
	if !ok || p.messages[i].Deleted {
		return
	}
	p.messages[i].Content = msg.Content
}

func (p *Projection) ChannelID() string { return p.channelID }
func (p *Projection) Name() string      { return p.name }
func (p *Projection) Creator() string   { return p.creator }

// Messages returns the history in arrival order.
func (p *Projection) Messages() []app.MessagePayload {
	return append([]app.MessagePayload(nil), p.messages...)
}

func (p *Projection) Message(id string) (app.MessagePayload, bool) {
	i, ok := p.index[id]
	if !ok {
		return app.MessagePayload{}, false
	}
	return p.messages[i], true
}

func (p *Projection) Members() []string { return sortedKeys(p.members) }
func (p *Projection) Admins() []string  { return sortedKeys(p.admins) }

func (p *Projection) IsMember(userID string) bool {
	_, ok := p.members[userID]
	return ok
}

func (p *Projection) IsAdmin(userID string) bool {
	_, ok := p.admins[userID]
	return ok
}

func (p *Projection) ViewerIsAdmin() bool { return p.viewerIsAdmin }

// ViewerRemoved reports that the viewer is no longer a member.
func (p *Projection) ViewerRemoved() bool { return p.viewerRemoved }

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	sort.Strings(keys)
	return keys
}
