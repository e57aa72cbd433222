// Package session implements per-sender conversation state with pluggable persistence.
package session

import "time"

// Direction marks whether a history entry was sent by the bot or received from the sender.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Entry is a single conversation history record.
type Entry struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Session holds one sender's conversation state.
//
// Milestone flags are monotonic: once set they are never cleared. History is
// append-only and insertion order is significant.
type Session struct {
	SenderID string `json:"sender_id"`

	Greeted         bool `json:"greeted"`
	AskedMembership bool `json:"asked_membership"`
	MemberAnswered  bool `json:"member_answered"`
	IsMember        bool `json:"is_member"`
	AskedBusiness   bool `json:"asked_business"`

	History []Entry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh session for a sender with all flags unset.
func New(senderID string) *Session {
	now := time.Now()
	return &Session{
		SenderID:  senderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a history entry.
func (s *Session) Append(dir Direction, text string) {
	s.History = append(s.History, Entry{
		Direction: dir,
		Text:      text,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.UpdatedAt = time.Now()
}

// RecentHistory returns the last max entries.
func (s *Session) RecentHistory(max int) []Entry {
	start := 0
	if len(s.History) > max {
		start = len(s.History) - max
	}
	return s.History[start:]
}
