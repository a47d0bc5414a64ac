package search

import (
	"context"

	"huddle/api/internal/store"
)

// Result is one user hit, in the shape the add-member picker consumes.
type Result struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Query describes a user search. ChannelID and ExcludeIDs both name users
// that must not appear in the results, typically the channel's members.
type Query struct {
	Text       string
	ChannelID  string
	ExcludeIDs []string
	Limit      int
}

// UserRecord is the data indexed per user.
type UserRecord struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	IsDeleted bool   `json:"isDeleted"`
}

// Fallback answers searches straight from the domain store and lists the
// users to index.
type Fallback interface {
	SearchUsers(ctx context.Context, query, excludeChannelID string, limit int) ([]store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
}

func RecordFromUser(user store.User) UserRecord {
	return UserRecord{ID: user.ID, Username: user.Username, IsDeleted: user.IsDeleted}
}
