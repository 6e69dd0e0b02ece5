// Package chatlog holds the archived chat message model shared by the store,
// the data service, its client and the conversation viewer.
package chatlog

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a message id is unknown to the store or service.
	ErrNotFound = errors.New("message not found")
	// ErrEmptyID is returned when an operation needs a message id and got none.
	ErrEmptyID = errors.New("message id is empty")
)

// Message is a single archived chat message. Only ID, Name and Text are needed
// to render a conversation; the remaining fields mirror the upstream archive.
type Message struct {
	ID          string       `json:"id"`
	SourceGUID  string       `json:"source_guid,omitempty"`
	CreatedAt   int64        `json:"created_at,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	GroupID     string       `json:"group_id,omitempty"`
	Name        string       `json:"name"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Text        string       `json:"text"`
	System      bool         `json:"system,omitempty"`
	FavoritedBy []string     `json:"favorited_by,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	LikeCount   int          `json:"like_count,omitempty"`
}

// Attachment is an upstream message attachment (image, location, emoji, ...).
type Attachment struct {
	Type        string  `json:"type"`
	URL         string  `json:"url,omitempty"`
	Lat         string  `json:"lat,omitempty"`
	Lng         string  `json:"lng,omitempty"`
	Name        string  `json:"name,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Charmap     [][]int `json:"charmap,omitempty"`
}

// Line renders the message the way every list of messages shows it.
func (m Message) Line() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Text)
}

// Time returns CreatedAt as a time, zero when unset.
func (m Message) Time() time.Time {
	if m.CreatedAt == 0 {
		return time.Time{}
	}
	return time.Unix(m.CreatedAt, 0)
}

// Less orders messages chronologically, ties broken by id.
func Less(a, b Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// Window is a contiguous, chronologically ordered slice of a conversation
// centered on an anchor message.
type Window struct {
	BeforeMessages []Message `json:"before_messages"`
	Message        Message   `json:"message"`
	AfterMessages  []Message `json:"after_messages"`
}

// Messages flattens the window into before ++ [message] ++ after.
func (w Window) Messages() []Message {
	out := make([]Message, 0, len(w.BeforeMessages)+1+len(w.AfterMessages))
	out = append(out, w.BeforeMessages...)
	out = append(out, w.Message)
	out = append(out, w.AfterMessages...)
	return out
}

// Len is len(before)+1+len(after).
func (w Window) Len() int {
	return len(w.BeforeMessages) + 1 + len(w.AfterMessages)
}
