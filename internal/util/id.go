package util

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewMessageID returns a ULID; ids issued by one process sort in issue order.
func NewMessageID() string {
	return ulid.Make().String()
}
