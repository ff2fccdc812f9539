package fop

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time source of progress speed and journal timestamps.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names jobs and temporary part files.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces version 7 UUIDs, so job IDs sort by creation
// time. It falls back to random UUIDs if the clock sequence fails.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
