package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type User struct {
	ID        string
	Username  string
	Email     string
	IsDeleted bool
	CreatedAt time.Time
}

type Channel struct {
	ID             string
	Name           string
	Users          []string
	Administrators []string
	Creator        string
	LastMessage    *string
	CreatedAt      time.Time
}

// HasMember reports whether userID is in the member set.
func (c Channel) HasMember(userID string) bool {
	for _, id := range c.Users {
		if id == userID {
			return true
		}
	}
	return false
}

func (c Channel) HasAdmin(userID string) bool {
	for _, id := range c.Administrators {
		if id == userID {
			return true
		}
	}
	return false
}

type ChannelSummary struct {
	ID          string
	Name        string
	LastMessage *Message
}

type FileRef struct {
	ID        string
	Filename  string
	MimeType  string
	Size      int64
	ObjectKey string
	// URL is resolved at read time and never persisted.
	URL string
}

type Message struct {
	ID             string
	ChannelID      string
	AuthorID       string
	AuthorName     string
	Content        string
	File           *FileRef
	Timestamp      time.Time
	IsNotification bool
	Deleted        bool
}
