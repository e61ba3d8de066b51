package tweet

import (
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
)

const (
	// Kind tags every tweet event.
	Kind = "Tweets"
	// DocumentKey holds the denormalized tweet list.
	DocumentKey = "Tweets"
)

// Tweet is the current state of one tweet. The zero value is the state
// before any event has been applied.
type Tweet struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds of the last change
}

// New creates a tweet with a fresh id.
func New(content, userID string, now int64) Tweet {
	return Tweet{
		ID:        uuid.New().String(),
		Content:   content,
		UserID:    userID,
		Timestamp: now,
	}
}

func (t Tweet) EntityID() string       { return t.ID }
func (t Tweet) EntityTimestamp() int64 { return t.Timestamp }

// Restore merges the fields present in evt's payload.
func (t *Tweet) Restore(evt event.Event) error {
	return event.Merge(evt.Payload, map[string]any{
		"id":        &t.ID,
		"content":   &t.Content,
		"user_id":   &t.UserID,
		"timestamp": &t.Timestamp,
	})
}
