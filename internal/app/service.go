package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"huddle/api/internal/auth"
	"huddle/api/internal/config"
	"huddle/api/internal/files"
	"huddle/api/internal/hub"
	"huddle/api/internal/notify"
	"huddle/api/internal/rbac"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

// Store is the persistence the service needs; MemoryStore and PostgresStore both satisfy it.
type Store interface {
	Ping(context.Context) error
	InsertUser(context.Context, store.User) error
	CountUsers(context.Context) (int, error)
	GetUser(context.Context, string) (store.User, error)
	GetUsers(context.Context, []string) ([]store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	SearchUsers(context.Context, string, string, int) ([]store.User, error)
	CreateChannel(context.Context, store.Channel, store.Message) (store.Message, error)
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannelsForUser(context.Context, string) ([]store.ChannelSummary, error)
	AddMember(context.Context, string, string, store.Message) (store.Message, error)
	RemoveMember(context.Context, string, string, store.Message) (store.Message, error)
	SetAdmin(context.Context, string, string, bool, store.Message) (store.Message, error)
	InsertMessage(context.Context, store.Message) (store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	ListMessages(context.Context, string) ([]store.Message, error)
	EditMessage(context.Context, string, string) (store.Message, error)
	DeleteMessage(context.Context, string, string) (store.Message, error)
}

// Publisher fans a committed change out to the channel's room.
type Publisher interface {
	Publish(ctx context.Context, room, eventType string, payload any, opts ...hub.PublishOption) (int, error)
}

type UserSearcher interface {
	SearchUsers(ctx context.Context, q search.Query) ([]search.Result, error)
}


type Options struct {
	Hub      Publisher
	Presence session.Presence
	Objects  files.ObjectStore
	Search   UserSearcher
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    Store
	tokens   *auth.Verifier
	hub      Publisher
	presence session.Presence
	objects  files.ObjectStore
	search   UserSearcher
	notes    *notify.Recorder
	validate *validator.Validate
	log      *zap.Logger
}

func New(cfg config.Config, dataStore Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Search == nil {
		opts.Search = search.NewService(nil, dataStore, opts.Logger)
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		tokens:   auth.NewVerifier(cfg.JWTSecret),
		hub:      opts.Hub,
		presence: opts.Presence,
		objects:  opts.Objects,
		search:   opts.Search,
		notes:    notify.NewRecorder(),
		validate: validator.New(),
		log:      opts.Logger.Named("service"),
	}
}

type createChannelInput struct {
	Name string `validate:"required,min=1,max=64"`
}

type messageInput struct {
	Content string `validate:"max=4000"`
}

type editInput struct {
	Content string `validate:"required,max=4000"`
}

var demoUsers = []string{"alice", "bob", "carol"}

// Bootstrap seeds demo users into an empty store when enabled and logs a
// development token for each.
func (s *Service) Bootstrap(ctx context.Context) error {
	if !s.cfg.SeedDemo {
		return nil
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, name := range demoUsers {
		user := store.User{ID: util.NewID("usr"), Username: name, Email: name + "@huddle.local"}
		if err := s.store.InsertUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", name, err)
		}

		token, err := s.tokens.Issue(auth.Principal{UserID: user.ID, Username: user.Username}, 30*24*time.Hour)
		if err != nil {
			return err
		}
		s.log.Info("seeded demo user", zap.String("user", user.ID), zap.String("username", name), zap.String("token", token))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate resolves a bearer token to a principal. The stored user wins
// over the token for the deleted flag.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	principal, err := s.tokens.Verify(token)
	if err != nil {
		return auth.Principal{}, Unauthenticated("Unauthorized")
	}
	user, err := s.store.GetUser(ctx, principal.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return auth.Principal{}, Unauthenticated("Unknown user")
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("load principal: %w", err)
	}
	principal.Username = user.Username
	principal.IsDeleted = principal.IsDeleted || user.IsDeleted
	return principal, nil
}

func (s *Service) actor(ctx context.Context, principal auth.Principal) (store.User, error) {
	if principal.IsDeleted {
		return store.User{}, Forbidden("Account is deleted")
	}
	user, err := s.store.GetUser(ctx, principal.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, Unauthenticated("Unknown user")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load actor: %w", err)
	}
	if user.IsDeleted {
		return store.User{}, Forbidden("Account is deleted")
	}
	return user, nil
}

func (s *Service) channel(ctx context.Context, channelID string) (store.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return store.Channel{}, storeError(err, "load channel", "Channel not found", "")
	}
	return ch, nil
}

func (s *Service) authorize(ch store.Channel, userID string, action rbac.Action) error {
	if !rbac.Can(rbac.RoleIn(userID, ch.Users, ch.Administrators), action) {
		return Forbidden("Forbidden")
	}
	return nil
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[strings.ToLower(fe.Field())] = fe.Tag()
		}
		return Validation("Invalid input", details)
	}
	return fmt.Errorf("validate input: %w", err)
}

const publishTimeout = 5 * time.Second

// publish is called only after the store committed, so it detaches from the
// request context. Failures are logged; clients recover through the REST
// history.
func (s *Service) publish(ctx context.Context, room, event string, payload any, opts ...hub.PublishOption) {
	if s.hub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	delivered, err := s.hub.Publish(ctx, room, event, payload, opts...)
	if err != nil {
		s.log.Warn("publish failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		return
	}
	s.log.Debug("published", zap.String("room", room), zap.String("event", event), zap.Int("sessions", delivered))
}

func (s *Service) CreateChannel(ctx context.Context, principal auth.Principal, name string) (MutationResult, error) {
	creator, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	name = strings.TrimSpace(name)
	if err := s.check(createChannelInput{Name: name}); err != nil {
		return MutationResult{}, err
	}

	channelID := util.NewID("chn")
	note, err := s.notes.Message(notify.ChannelCreated, channelID, creator, "")
	if err != nil {
		return MutationResult{}, err
	}
	if _, err := s.store.CreateChannel(ctx, store.Channel{ID: channelID, Name: name, Creator: creator.ID}, note); err != nil {
		return MutationResult{}, storeError(err, "create channel", "User not found", "Channel name already exists")
	}
	return MutationResult{Summary: "Channel created", Data: map[string]string{"_id": channelID}}, nil
}

func (s *Service) AddMember(ctx context.Context, principal auth.Principal, channelID, targetID string) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionManageMembers); err != nil {
		return MutationResult{}, err
	}
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return MutationResult{}, storeError(err, "load user", "User not found", "")
	}
	if target.IsDeleted {
		return MutationResult{}, NotFound("User not found")
	}

	note, err := s.notes.Message(notify.MemberAdded, ch.ID, actor, target.Username)
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.store.AddMember(ctx, ch.ID, target.ID, note)
	if err != nil {
		return MutationResult{}, storeError(err, "add member", "Channel or user not found", "User is already a member")
	}

	payload := payloadFromMessage(msg)
	payload.NewMember = target.ID
	s.publish(ctx, ch.ID, EventAddMember, payload, hub.Attach(target.ID))
	return MutationResult{Summary: "Member added", Event: EventAddMember, Data: payload}, nil
}

func (s *Service) RemoveMember(ctx context.Context, principal auth.Principal, channelID, targetID string) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionManageMembers); err != nil {
		return MutationResult{}, err
	}
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return MutationResult{}, storeError(err, "load user", "User not found", "")
	}

	note, err := s.notes.Message(notify.MemberRemoved, ch.ID, actor, target.Username)
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.store.RemoveMember(ctx, ch.ID, target.ID, note)
	if err != nil {
		return MutationResult{}, storeError(err, "remove member", "Channel not found", "User is not a member")
	}

	payload := payloadFromMessage(msg)
	payload.RemovedMember = target.ID
	s.publish(ctx, ch.ID, EventRemoveMember, payload, hub.Detach(target.ID))
	return MutationResult{Summary: "Member removed", Event: EventRemoveMember, Data: payload}, nil
}

func (s *Service) MakeAdmin(ctx context.Context, principal auth.Principal, channelID, targetID string) (MutationResult, error) {
	return s.setAdmin(ctx, principal, channelID, targetID, true)
}

func (s *Service) RemoveAdmin(ctx context.Context, principal auth.Principal, channelID, targetID string) (MutationResult, error) {
	return s.setAdmin(ctx, principal, channelID, targetID, false)
}

func (s *Service) setAdmin(ctx context.Context, principal auth.Principal, channelID, targetID string, admin bool) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionManageAdmins); err != nil {
		return MutationResult{}, err
	}
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return MutationResult{}, storeError(err, "load user", "User not found", "")
	}
	if !ch.HasMember(target.ID) {
		return MutationResult{}, Conflict("User is not a member")
	}
	if ch.HasAdmin(target.ID) == admin {
		if admin {
			return MutationResult{}, Conflict("User is already an admin")
		}
		return MutationResult{}, Conflict("User is not an admin")
	}

	kind, event, summary := notify.AdminGranted, EventMakeAdmin, "Admin granted"
	if !admin {
		kind, event, summary = notify.AdminRevoked, EventRemoveAdmin, "Admin revoked"
	}
	note, err := s.notes.Message(kind, ch.ID, actor, target.Username)
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.store.SetAdmin(ctx, ch.ID, target.ID, admin, note)
	if err != nil {
		return MutationResult{}, storeError(err, "set admin", "Channel not found", "Admin state changed concurrently")
	}

	payload := payloadFromMessage(msg)
	if admin {
		payload.NewAdmin = target.ID
	} else {
		payload.RemovedAdmin = target.ID
	}
	s.publish(ctx, ch.ID, event, payload)
	return MutationResult{Summary: summary, Event: event, Data: payload}, nil
}

func (s *Service) LeaveChannel(ctx context.Context, principal auth.Principal, channelID string) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if !rbac.Can(rbac.RoleIn(actor.ID, ch.Users, ch.Administrators), rbac.ActionLeave) {
		return MutationResult{}, Conflict("You are not a member")
	}

	note, err := s.notes.Message(notify.MemberLeft, ch.ID, actor, "")
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.store.RemoveMember(ctx, ch.ID, actor.ID, note)
	if err != nil {
		return MutationResult{}, storeError(err, "leave channel", "Channel not found", "You are not a member")
	}

	payload := payloadFromMessage(msg)
	payload.RemovedMember = actor.ID
	s.publish(ctx, ch.ID, EventRemoveMember, payload, hub.Detach(actor.ID))
	return MutationResult{Summary: "Left channel", Event: EventRemoveMember, Data: payload}, nil
}

// SendMessage posts either text or a file, never both.
func (s *Service) SendMessage(ctx context.Context, principal auth.Principal, channelID, content string, file *store.FileRef) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionPost); err != nil {
		return MutationResult{}, err
	}

	hasText := strings.TrimSpace(content) != ""
	if hasText == (file != nil) {
		return MutationResult{}, Validation("Provide either content or a file", nil)
	}
	if err := s.check(messageInput{Content: content}); err != nil {
		return MutationResult{}, err
	}

	msg, err := s.store.InsertMessage(ctx, store.Message{
		ID:         util.NewMessageID(),
		ChannelID:  ch.ID,
		AuthorID:   actor.ID,
		AuthorName: actor.Username,
		Content:    content,
		File:       file,
	})
	if err != nil {
		return MutationResult{}, storeError(err, "insert message", "Channel not found", "Message already exists")
	}

	payload := s.resolvePayload(ctx, msg)
	s.publish(ctx, ch.ID, EventNewMessage, payload)
	return MutationResult{Summary: "Message sent", Event: EventNewMessage, Data: payload}, nil
}

// UploadFile stores the bytes and posts a file message. The object is
// removed again when the message cannot be recorded.
func (s *Service) UploadFile(ctx context.Context, principal auth.Principal, channelID, filename string, body io.Reader, size int64) (MutationResult, error) {
	if s.objects == nil {
		return MutationResult{}, Unavailable("File uploads are not configured")
	}
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionPost); err != nil {
		return MutationResult{}, err
	}
	if size <= 0 {
		return MutationResult{}, Validation("File is empty", nil)
	}
	if s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes {
		return MutationResult{}, Validation("File is too large", map[string]int64{"maxBytes": s.cfg.MaxUploadBytes})
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "file"
	}

	mime, reader, err := files.Sniff(body)
	if err != nil {
		return MutationResult{}, err
	}
	ref := &store.FileRef{ID: util.NewID("fil"), Filename: filename, MimeType: mime, Size: size}
	ref.ObjectKey = files.ObjectKey(ch.ID, ref.ID, filename)
	if err := s.objects.Put(ctx, ref.ObjectKey, reader, size, mime); err != nil {
		return MutationResult{}, fmt.Errorf("store upload: %w", err)
	}

	result, err := s.SendMessage(ctx, principal, ch.ID, "", ref)
	if err != nil {
		if rmErr := s.objects.Remove(ctx, ref.ObjectKey); rmErr != nil {
			s.log.Warn("remove orphaned upload", zap.String("key", ref.ObjectKey), zap.Error(rmErr))
		}
		return MutationResult{}, err
	}
	return result, nil
}

func (s *Service) EditMessage(ctx context.Context, principal auth.Principal, channelID, messageID, content string) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.message(ctx, channelID, messageID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.check(editInput{Content: strings.TrimSpace(content)}); err != nil {
		return MutationResult{}, err
	}
	if msg.File != nil {
		return MutationResult{}, Conflict("File messages cannot be edited")
	}
	if msg.Deleted {
		return MutationResult{}, Conflict("Message is deleted")
	}
	if msg.IsNotification {
		return MutationResult{}, Conflict("Notifications cannot be edited")
	}
	ch, err := s.channel(ctx, msg.ChannelID)
	if err != nil {
		return MutationResult{}, err
	}
	if !ch.HasMember(actor.ID) {
		return MutationResult{}, Forbidden("You are not a member")
	}
	if msg.AuthorID != actor.ID {
		return MutationResult{}, Forbidden("Only the author can edit a message")
	}

	updated, err := s.store.EditMessage(ctx, msg.ID, content)
	if err != nil {
		return MutationResult{}, storeError(err, "edit message", "Message not found", "Message can no longer be edited")
	}
	payload := s.resolvePayload(ctx, updated)
	payload.MessageID = updated.ID
	s.publish(ctx, updated.ChannelID, EventEditMessage, payload)
	return MutationResult{Summary: "Message edited", Event: EventEditMessage, Data: payload}, nil
}

func (s *Service) DeleteMessage(ctx context.Context, principal auth.Principal, channelID, messageID string) (MutationResult, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return MutationResult{}, err
	}
	msg, err := s.message(ctx, channelID, messageID)
	if err != nil {
		return MutationResult{}, err
	}
	ch, err := s.channel(ctx, msg.ChannelID)
	if err != nil {
		return MutationResult{}, err
	}
	if msg.AuthorID != actor.ID {
		if err := s.authorize(ch, actor.ID, rbac.ActionModerate); err != nil {
			return MutationResult{}, err
		}
	}
	if msg.Deleted {
		return MutationResult{}, Conflict("Message is already deleted")
	}

	if _, err := s.store.DeleteMessage(ctx, msg.ID, notify.Tombstone); err != nil {
		return MutationResult{}, storeError(err, "delete message", "Message not found", "Message is already deleted")
	}
	if msg.File != nil && s.objects != nil {
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := s.objects.Remove(removeCtx, msg.File.ObjectKey); err != nil {
			s.log.Warn("remove file object", zap.String("file", msg.File.ID), zap.String("key", msg.File.ObjectKey), zap.Error(err))
		}
		cancel()
	}
	payload := DeletePayload{ChannelID: msg.ChannelID, MessageID: msg.ID}
	s.publish(ctx, msg.ChannelID, EventDeleteMessage, payload)
	return MutationResult{Summary: "Message deleted", Event: EventDeleteMessage, Data: payload}, nil
}

// message loads a message and checks it belongs to channelID.
func (s *Service) message(ctx context.Context, channelID, messageID string) (store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return store.Message{}, storeError(err, "load message", "Message not found", "")
	}
	if channelID != "" && msg.ChannelID != channelID {
		return store.Message{}, NotFound("Message not found")
	}
	return msg, nil
}

// resolvePayload converts msg and attaches a download URL to its file.
func (s *Service) resolvePayload(ctx context.Context, msg store.Message) MessagePayload {
	if msg.File != nil && s.objects != nil {
		url, err := s.objects.PresignGet(ctx, msg.File.ObjectKey, msg.File.Filename, s.cfg.FileURLTTL)
		if err != nil {
			s.log.Warn("presign file", zap.String("file", msg.File.ID), zap.Error(err))
		} else {
			msg.File.URL = url
		}
	}
	return payloadFromMessage(msg)
}

func (s *Service) GetChannel(ctx context.Context, principal auth.Principal, channelID string) (ChannelView, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return ChannelView{}, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return ChannelView{}, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionRead); err != nil {
		return ChannelView{}, err
	}
	return channelView(ch), nil
}

func (s *Service) ListChannels(ctx context.Context, principal auth.Principal) ([]ChannelListItem, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return nil, err
	}
	summaries, err := s.store.ListChannelsForUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return lo.Map(summaries, func(item store.ChannelSummary, _ int) ChannelListItem {
		out := ChannelListItem{ID: item.ID, Name: item.Name}
		if item.LastMessage != nil {
			last := s.resolvePayload(ctx, *item.LastMessage)
			out.LastMessage = &last
		}
		return out
	}), nil
}

func (s *Service) ListMessages(ctx context.Context, principal auth.Principal, channelID string) ([]MessagePayload, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return nil, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionRead); err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, ch.ID)
	if err != nil {
		return nil, storeError(err, "list messages", "Channel not found", "")
	}
	return lo.Map(history, func(msg store.Message, _ int) MessagePayload {
		return s.resolvePayload(ctx, msg)
	}), nil
}

func (s *Service) ChannelMembers(ctx context.Context, principal auth.Principal, channelID string) ([]MemberView, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return nil, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ch, actor.ID, rbac.ActionRead); err != nil {
		return nil, err
	}
	users, err := s.store.GetUsers(ctx, ch.Users)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	online := map[string]bool{}
	if s.presence != nil {
		if online, err = s.presence.Online(ctx, ch.Users); err != nil {
			s.log.Warn("presence lookup failed", zap.String("channel", ch.ID), zap.Error(err))
			online = map[string]bool{}
		}
	}
	return lo.Map(users, func(user store.User, _ int) MemberView {
		return MemberView{
			UserID:   user.ID,
			Username: user.Username,
			IsAdmin:  ch.HasAdmin(user.ID),
			Online:   online[user.ID],
		}
	}), nil
}

func (s *Service) IsAdmin(ctx context.Context, principal auth.Principal, channelID string) (bool, error) {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return false, err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return false, err
	}
	return ch.HasAdmin(actor.ID), nil
}

// SearchUsers finds users by name. With a channel id, its current members
// are left out so the result feeds the add-member picker.
func (s *Service) SearchUsers(ctx context.Context, principal auth.Principal, query, channelID string) ([]search.Result, error) {
	if _, err := s.actor(ctx, principal); err != nil {
		return nil, err
	}
	q := search.Query{Text: strings.TrimSpace(query), Limit: 20}
	if channelID != "" {
		ch, err := s.channel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		q.ChannelID = ch.ID
		q.ExcludeIDs = ch.Users
	}
	return s.search.SearchUsers(ctx, q)
}

// CheckRoom reports whether a session may join the room of channelID. Only
// members may; a member added later is attached by the add-member event.
func (s *Service) CheckRoom(ctx context.Context, principal auth.Principal, channelID string) error {
	actor, err := s.actor(ctx, principal)
	if err != nil {
		return err
	}
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}
	return s.authorize(ch, actor.ID, rbac.ActionRead)
}
