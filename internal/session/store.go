package session

import (
	"context"
	"errors"
)

// ErrUnavailable wraps failures of the backing medium. Callers decide whether
// to block on it; the dispatcher logs and continues best-effort.
var ErrUnavailable = errors.New("session store unavailable")

// Store persists sessions keyed by sender identity.
type Store interface {
	// Load returns the sender's session, creating a fresh default one if none
	// is stored. Idempotent under concurrent calls for the same key.
	Load(ctx context.Context, senderID string) (*Session, error)

	// Save persists the full session state. A later Load must observe either
	// the previous or the new record, never a partial write.
	Save(ctx context.Context, s *Session) error
}

// Summary describes a stored session without its full history.
type Summary struct {
	SenderID   string `json:"sender_id"`
	Greeted    bool   `json:"greeted"`
	IsMember   bool   `json:"is_member"`
	HistoryLen int    `json:"history_len"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// Lister is implemented by stores that can enumerate their sessions.
type Lister interface {
	List(ctx context.Context) ([]Summary, error)
}
