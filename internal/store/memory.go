package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memChannel struct {
	id          string
	name        string
	creator     string
	lastMessage *string
	createdAt   time.Time
	// roles by user id; order keeps join order for stable listings.
	roles map[string]string
	order []string
}

func (c *memChannel) snapshot() Channel {
	ch := Channel{
		ID:             c.id,
		Name:           c.name,
		Creator:        c.creator,
		Users:          make([]string, 0, len(c.order)),
		Administrators: make([]string, 0),
		CreatedAt:      c.createdAt,
	}
	if c.lastMessage != nil {
		id := *c.lastMessage
		ch.LastMessage = &id
	}
	for _, userID := range c.order {
		ch.Users = append(ch.Users, userID)
		if c.roles[userID] == RoleAdmin {
			ch.Administrators = append(ch.Administrators, userID)
		}
	}
	return ch
}

func (c *memChannel) removeMember(userID string) {
	delete(c.roles, userID)
	for i, id := range c.order {
		if id == userID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// MemoryStore keeps everything in process memory behind one mutex.
// It backs tests and single-node development runs.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	users        map[string]User
	usernames    map[string]string
	channels     map[string]*memChannel
	channelNames map[string]string
	messages     map[string]Message
	history      map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		users:        make(map[string]User),
		usernames:    make(map[string]string),
		channels:     make(map[string]*memChannel),
		channelNames: make(map[string]string),
		messages:     make(map[string]Message),
		history:      make(map[string][]string),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.usernames[user.Username]; ok {
		return ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
	s.usernames[user.Username] = user.ID
	return nil
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUsers(_ context.Context, userIDs []string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]User, 0, len(userIDs))
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			items = append(items, user)
		}
	}
	return items, nil
}

// ListUsers returns every user, deleted ones included, ordered by username.
func (s *MemoryStore) ListUsers(context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]User, 0, len(s.users))
	for _, user := range s.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Username < items[j].Username })
	return items, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, query, excludeChannelID string, limit int) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	var exclude map[string]string
	if ch, ok := s.channels[excludeChannelID]; ok {
		exclude = ch.roles
	}
	items := make([]User, 0)
	for _, user := range s.users {
		if user.IsDeleted || !strings.Contains(strings.ToLower(user.Username), needle) {
			continue
		}
		if _, member := exclude[user.ID]; member {
			continue
		}
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Username < items[j].Username })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) CreateChannel(_ context.Context, channel Channel, note Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channelNames[channel.Name]; ok {
		return Message{}, ErrConflict
	}
	if _, ok := s.channels[channel.ID]; ok {
		return Message{}, ErrConflict
	}
	if _, ok := s.users[channel.Creator]; !ok {
		return Message{}, ErrNotFound
	}
	createdAt := channel.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	ch := &memChannel{
		id:        channel.ID,
		name:      channel.Name,
		creator:   channel.Creator,
		createdAt: createdAt,
		roles:     map[string]string{channel.Creator: RoleAdmin},
		order:     []string{channel.Creator},
	}
	s.channels[ch.id] = ch
	s.channelNames[ch.name] = ch.id
	return s.appendLocked(ch, note), nil
}

func (s *MemoryStore) GetChannel(_ context.Context, channelID string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch.snapshot(), nil
}

func (s *MemoryStore) ListChannelsForUser(_ context.Context, userID string) ([]ChannelSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ChannelSummary, 0)
	for _, ch := range s.channels {
		if _, ok := ch.roles[userID]; !ok {
			continue
		}
		summary := ChannelSummary{ID: ch.id, Name: ch.name}
		if ch.lastMessage != nil {
			if msg, ok := s.messages[*ch.lastMessage]; ok {
				last := cloneMessage(msg)
				summary.LastMessage = &last
			}
		}
		items = append(items, summary)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *MemoryStore) AddMember(_ context.Context, channelID, userID string, note Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return Message{}, ErrNotFound
	}
	if _, member := ch.roles[userID]; member {
		return Message{}, ErrConflict
	}
	ch.roles[userID] = RoleMember
	ch.order = append(ch.order, userID)
	return s.appendLocked(ch, note), nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, channelID, userID string, note Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if _, member := ch.roles[userID]; !member {
		return Message{}, ErrConflict
	}
	ch.removeMember(userID)
	return s.appendLocked(ch, note), nil
}

func (s *MemoryStore) SetAdmin(_ context.Context, channelID, userID string, admin bool, note Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Message{}, ErrNotFound
	}
	role, member := ch.roles[userID]
	if !member || (role == RoleAdmin) == admin {
		return Message{}, ErrConflict
	}
	if admin {
		ch.roles[userID] = RoleAdmin
	} else {
		ch.roles[userID] = RoleMember
	}
	return s.appendLocked(ch, note), nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[msg.ChannelID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if _, ok := s.messages[msg.ID]; ok {
		return Message{}, ErrConflict
	}
	return s.appendLocked(ch, msg), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, channelID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return nil, ErrNotFound
	}
	ids := s.history[channelID]
	items := make([]Message, 0, len(ids))
	for _, id := range ids {
		items = append(items, cloneMessage(s.messages[id]))
	}
	return items, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, messageID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if msg.Deleted || msg.File != nil || msg.IsNotification {
		return Message{}, ErrConflict
	}
	msg.Content = content
	s.messages[messageID] = msg
	return cloneMessage(msg), nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, messageID, tombstone string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if msg.Deleted {
		return Message{}, ErrConflict
	}
	msg.Content = tombstone
	msg.Deleted = true
	msg.File = nil
	s.messages[messageID] = msg

	ch := s.channels[msg.ChannelID]
	if ch != nil && ch.lastMessage != nil && *ch.lastMessage == messageID {
		ch.lastMessage = nil
		ids := s.history[ch.id]
		for i := len(ids) - 1; i >= 0; i-- {
			if !s.messages[ids[i]].Deleted {
				id := ids[i]
				ch.lastMessage = &id
				break
			}
		}
	}
	return cloneMessage(msg), nil
}

// appendLocked stamps msg with a per-channel increasing timestamp, stores it
// and makes it the channel's last message.
func (s *MemoryStore) appendLocked(ch *memChannel, msg Message) Message {
	ts := s.now()
	if ids := s.history[ch.id]; len(ids) > 0 {
		if last := s.messages[ids[len(ids)-1]].Timestamp; !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}
	msg.ChannelID = ch.id
	msg.Timestamp = ts
	msg = cloneMessage(msg)
	s.messages[msg.ID] = msg
	s.history[ch.id] = append(s.history[ch.id], msg.ID)
	id := msg.ID
	ch.lastMessage = &id
	return cloneMessage(msg)
}

func cloneMessage(msg Message) Message {
	if msg.File != nil {
		file := *msg.File
		msg.File = &file
	}
	return msg
}
