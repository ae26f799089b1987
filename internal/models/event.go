package models

import (
	"strings"
	"time"
)

// Event is a single inbound user action, decoded by a transport.
type Event struct {
	ID      string    `json:"id,omitempty"`
	UserID  string    `json:"user_id" validate:"required,max=128"`
	ReplyTo string    `json:"reply_to,omitempty"` // transport address for replies, defaults to UserID
	Kind    EventKind `json:"kind" validate:"required,oneof=command text image back"`
	Command Command   `json:"command,omitempty" validate:"required_if=Kind command"`
	Text    string    `json:"text,omitempty" validate:"max=4096"`
	Image   []byte    `json:"image,omitempty"`
	FileID  string    `json:"file_id,omitempty"` // transport file reference, fetched lazily
	Time    time.Time `json:"time"`
}

// Address returns where replies to this event should be delivered.
func (e Event) Address() string {
	if e.ReplyTo != "" {
		return e.ReplyTo
	}
	return e.UserID
}

// TrimmedText returns the event text without surrounding whitespace.
func (e Event) TrimmedText() string {
	return strings.TrimSpace(e.Text)
}

// HasImage reports whether the event carries image bytes or a reference to fetch them.
func (e Event) HasImage() bool {
	return len(e.Image) > 0 || e.FileID != ""
}

// Reply is a single outbound message produced by the flow controller.
type Reply struct {
	Text     string       `json:"text"`
	Keyboard KeyboardType `json:"keyboard,omitempty"`
	HTML     bool         `json:"html,omitempty"`
}
