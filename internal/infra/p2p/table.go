package p2p

import "sync"

// Table indexes live sessions by the peer's public key. One session per
// peer; registering a second replaces and closes the first.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable builds an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Put registers a session under its peer key.
func (t *Table) Put(s *Session) {
	t.mu.Lock()
	old := t.sessions[s.PeerKey()]
	t.sessions[s.PeerKey()] = s
	t.mu.Unlock()
	if old != nil && old != s {
		old.Close()
	}
}

// Get returns the live session for a peer, or nil.
func (t *Table) Get(peerKey string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[peerKey]
}

// Remove drops a session from the table if it is still the registered
// one. Does not close it.
func (t *Table) Remove(s *Session) {
	t.mu.Lock()
	if t.sessions[s.PeerKey()] == s {
		delete(t.sessions, s.PeerKey())
	}
	t.mu.Unlock()
}

// Len reports the number of registered sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll tears down every session.
func (t *Table) CloseAll() {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
