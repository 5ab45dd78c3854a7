package bridge

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Every entity in the data model (tasks, chats, messages, agents, ...)
// is keyed by one of these; the scheme is applied consistently so rows
// never mix integer and UUID identifiers.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
