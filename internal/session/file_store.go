package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mariobot/internal/utils"
)

// fileMeta is the first line of a session JSONL file.
type fileMeta struct {
	Type            string `json:"_type"`
	SenderID        string `json:"sender_id"`
	Greeted         bool   `json:"greeted"`
	AskedMembership bool   `json:"asked_membership"`
	MemberAnswered  bool   `json:"member_answered"`
	IsMember        bool   `json:"is_member"`
	AskedBusiness   bool   `json:"asked_business"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// FileStore persists sessions as one JSONL file per sender.
// First line is metadata (flags + timestamps), remaining lines are history entries.
type FileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Session
}

// NewFileStore creates a file store rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, "sessions")
	if _, err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &FileStore{
		dir:   dir,
		cache: make(map[string]*Session),
	}, nil
}

// Load returns the cached or stored session, or a fresh default one.
func (f *FileStore) Load(_ context.Context, senderID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.cache[senderID]; ok {
		return s, nil
	}

	s, err := f.read(senderID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = New(senderID)
	}
	f.cache[senderID] = s
	return s, nil
}

// Save rewrites the sender's file. The record is written to a temp file in the
// same directory and renamed over the old one, so a crash mid-write never
// leaves a truncated record observable by a later Load.
func (f *FileStore) Save(_ context.Context, s *Session) error {
	tmp, err := os.CreateTemp(f.dir, "."+utils.SafeFilename(s.SenderID)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	meta := fileMeta{
		Type:            "metadata",
		SenderID:        s.SenderID,
		Greeted:         s.Greeted,
		AskedMembership: s.AskedMembership,
		MemberAnswered:  s.MemberAnswered,
		IsMember:        s.IsMember,
		AskedBusiness:   s.AskedBusiness,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
	}
	werr := writeLine(w, meta)
	for _, e := range s.History {
		if werr != nil {
			break
		}
		werr = writeLine(w, e)
	}
	if werr == nil {
		werr = w.Flush()
	}
	if werr != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, werr)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), f.path(s.SenderID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	f.mu.Lock()
	f.cache[s.SenderID] = s
	f.mu.Unlock()
	return nil
}

// List enumerates stored sessions from disk.
func (f *FileStore) List(_ context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var result []Summary
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".jsonl")
		s, err := f.read(key)
		if err != nil || s == nil {
			continue
		}
		result = append(result, Summary{
			SenderID:   s.SenderID,
			Greeted:    s.Greeted,
			IsMember:   s.IsMember,
			HistoryLen: len(s.History),
			UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
		})
	}
	return result, nil
}

// Invalidate drops a session from the in-memory cache.
func (f *FileStore) Invalidate(senderID string) {
	f.mu.Lock()
	delete(f.cache, senderID)
	f.mu.Unlock()
}

func (f *FileStore) path(senderID string) string {
	return filepath.Join(f.dir, utils.SafeFilename(senderID)+".jsonl")
}

// read loads a session file, or nil if none exists.
func (f *FileStore) read(senderID string) (*Session, error) {
	file, err := os.Open(f.path(senderID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer file.Close()

	s := &Session{SenderID: senderID}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var probe struct {
			Type string `json:"_type"`
		}
		if json.Unmarshal([]byte(line), &probe) != nil {
			continue
		}

		if probe.Type == "metadata" {
			var meta fileMeta
			if json.Unmarshal([]byte(line), &meta) != nil {
				continue
			}
			if meta.SenderID != "" {
				s.SenderID = meta.SenderID
			}
			s.Greeted = meta.Greeted
			s.AskedMembership = meta.AskedMembership
			s.MemberAnswered = meta.MemberAnswered
			s.IsMember = meta.IsMember
			s.AskedBusiness = meta.AskedBusiness
			s.CreatedAt, _ = time.Parse(time.RFC3339, meta.CreatedAt)
			s.UpdatedAt, _ = time.Parse(time.RFC3339, meta.UpdatedAt)
			continue
		}

		var e Entry
		if json.Unmarshal([]byte(line), &e) == nil {
			s.History = append(s.History, e)
		}
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	return s, nil
}

func writeLine(w *bufio.Writer, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
