package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewClientID returns a locally assigned, lexically time-ordered identifier
func NewClientID() string {
	return ulid.Make().String()
}

// Timestamp formats t the way stored records carry creation times
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
