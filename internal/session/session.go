// Package session holds the long-lived state of one project: its sandbox, the index of known files
// and the conversation history.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/workspace"
)

var ErrSessionNotFound = fmt.Errorf("session not found")

// Session owns a live project. Applies against the same session must hold its lock.
type Session struct {
	ID        string
	CreatedAt time.Time
	Sandbox   workspace.Sandbox
	Index     *project.FileIndex
	// Conversation may be nil when the caller keeps no history
	Conversation *Conversation

	lock *semaphore.Weighted
}

func New(sandbox workspace.Sandbox, index *project.FileIndex, conversation *Conversation) *Session {
	return newSession(uuid.NewString(), time.Now(), sandbox, index, conversation)
}

func newSession(id string, createdAt time.Time, sandbox workspace.Sandbox, index *project.FileIndex, conversation *Conversation) *Session {
	if index == nil {
		index = project.NewFileIndex()
	}
	return &Session{
		ID:           id,
		CreatedAt:    createdAt,
		Sandbox:      sandbox,
		Index:        index,
		Conversation: conversation,
		lock:         semaphore.NewWeighted(1),
	}
}

// Lock waits until the session is free. The returned func releases it.
func (s *Session) Lock(ctx context.Context) (func(), error) {
	err := s.lock.Acquire(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session %s: %w", s.ID, err)
	}
	var once sync.Once
	return func() { once.Do(func() { s.lock.Release(1) }) }, nil
}

// Snapshot is the serializable state of a session
type Snapshot struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"createdAt"`
	Files        []string      `json:"files"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

// Snapshot captures the session. Callers should hold the lock if an apply may be running. The
// snapshot shares no memory with the session, so it may be used after the lock is released.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Files:     s.Index.Paths(),
	}
	if s.Conversation != nil {
		snap.Conversation = s.Conversation.Clone()
	}
	return snap
}

// Restore rebuilds a session from a snapshot on top of sandbox
func Restore(snap Snapshot, sandbox workspace.Sandbox) *Session {
	return newSession(snap.ID, snap.CreatedAt, sandbox, project.NewFileIndex(snap.Files...), snap.Conversation)
}

// Registry tracks the sessions of a running server
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// GetOrAdd returns the session registered under s.ID, registering s first if there is none.
// Callers must use the returned session in place of s.
func (r *Registry) GetOrAdd(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.ID]; ok {
		return existing, false
	}
	r.sessions[s.ID] = s
	return s, true
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// IDs returns the registered session ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
