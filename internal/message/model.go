package message

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrSelfMessage    = errors.New("sender and recipient are the same user")
	ErrNotParticipant = errors.New("current user is neither sender nor recipient")
)

// Status tracks where a message is in its delivery lifecycle from the
// current user's point of view.
type Status int

const (
	// StatusConfirmed is a message returned by the server in a list.
	StatusConfirmed Status = iota
	// StatusPending is an optimistic local send whose request is in flight.
	StatusPending
	// StatusSent is a local send the server accepted but has not yet listed.
	StatusSent
	// StatusFailed is a local send whose request failed. Terminal.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Participant is one side of a direct message exchange.
type Participant struct {
	ID    int64  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Role  string `json:"role,omitempty" yaml:"role,omitempty"`
}

// DisplayName returns the best human-readable label for p.
func (p Participant) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	if p.Email != "" {
		return p.Email
	}
	return "Unknown"
}

// Message is a single direct message between two users.
type Message struct {
	ID            int64     `json:"id,omitempty"` // 0 until the server acknowledges it
	SenderID      int64     `json:"sender"`
	RecipientID   int64     `json:"receiver"`
	SenderName    string    `json:"sender_name,omitempty"`
	RecipientName string    `json:"receiver_name,omitempty"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	Read          bool      `json:"is_read"`

	// Client-side bookkeeping, never serialized.
	LocalID string `json:"-"`
	Status  Status `json:"-"`
}

// Local reports whether m originated from this client and has not been
// replaced by a server copy yet.
func (m Message) Local() bool {
	return m.LocalID != "" && m.Status != StatusConfirmed
}

// Counterpart returns the other participant relative to self.
func (m Message) Counterpart(self int64) Participant {
	if m.RecipientID == self {
		return Participant{ID: m.SenderID, Name: m.SenderName}
	}
	return Participant{ID: m.RecipientID, Name: m.RecipientName}
}

// Validate checks the rules every message must satisfy for self.
func (m Message) Validate(self int64) error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.SenderID == m.RecipientID {
		return ErrSelfMessage
	}
	if m.SenderID != self && m.RecipientID != self {
		return ErrNotParticipant
	}
	return nil
}
