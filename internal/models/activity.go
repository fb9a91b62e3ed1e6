package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityEvent is the lifecycle event kind recorded in the activity log.
type ActivityEvent uint8

const (
	ActivityCreated ActivityEvent = iota + 1
	ActivityUpdated
	ActivityDeleted
)

func (e ActivityEvent) String() string {
	switch e {
	case ActivityCreated:
		return "created"
	case ActivityUpdated:
		return "updated"
	case ActivityDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("activity_event(%d)", uint8(e))
	}
}

// ParseActivityEvent converts the stored form of an event.
func ParseActivityEvent(s string) (ActivityEvent, error) {
	for _, e := range []ActivityEvent{ActivityCreated, ActivityUpdated, ActivityDeleted} {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown activity event %q", s)
}

func (e ActivityEvent) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ActivityEvent) UnmarshalText(text []byte) error {
	parsed, err := ParseActivityEvent(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Change holds the old and new value of a single field, encoded as a two element array.
type Change [2]any

// Changes maps field names to their change. A nil map means no recorded changes.
type Changes map[string]Change

// ActivityLog is an append-only record of an entity lifecycle event.
type ActivityLog struct {
	ActivityID  uuid.UUID     `json:"id"`
	OrgID       uuid.UUID     `json:"organization_id"`
	UserID      *uuid.UUID    `json:"user_id"` // nil for system writes
	Event       ActivityEvent `json:"event"`
	SubjectType string        `json:"subject_type"`
	SubjectID   uuid.UUID     `json:"subject_id"`
	SubjectName string        `json:"subject_name"` // snapshot at event time
	Changes     Changes       `json:"changes"`
	Checksum    uint64        `json:"checksum"` // CRC-64/NVME over the canonical record
	CreatedAt   time.Time     `json:"created_at"`
}
