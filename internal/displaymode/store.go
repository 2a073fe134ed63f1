package displaymode

import (
	"maps"
	"strings"
	"sync"
)

// Mode is how a destination chat renders relayed messages.
type Mode string

const (
	Full      Mode = "full"
	Condensed Mode = "condensed"
)

func (m Mode) Valid() bool { return m == Full || m == Condensed }

// Label is the human readable name shown in the admin menu.
func (m Mode) Label() string {
	switch m {
	case Condensed:
		return "FXTwitter Link Only"
	default:
		return "Full Content (Text + Media)"
	}
}

// Parse accepts "full", "condensed" and the legacy alias "fxtwitter".
func Parse(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return Full, true
	case "condensed", "fxtwitter":
		return Condensed, true
	default:
		return "", false
	}
}

// Store maps chat ids to explicit modes. Chats without an entry are Full.
type Store struct {
	mu    sync.RWMutex
	modes map[int64]Mode
}

func NewStore() *Store {
	return &Store{modes: map[int64]Mode{}}
}

func (s *Store) Get(chatID int64) Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.modes[chatID]; ok {
		return m
	}
	return Full
}

// Lookup returns the raw entry, which may be an unrecognized value restored
// from storage.
func (s *Store) Lookup(chatID int64) (Mode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[chatID]
	return m, ok
}

// Set stores mode and reports false when mode is not a valid value.
func (s *Store) Set(chatID int64, mode Mode) bool {
	if !mode.Valid() {
		return false
	}
	s.mu.Lock()
	s.modes[chatID] = mode
	s.mu.Unlock()
	return true
}

func (s *Store) Delete(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modes[chatID]; !ok {
		return false
	}
	delete(s.modes, chatID)
	return true
}

// Migrate copies an explicit entry from oldID to newID and then removes oldID.
// It reports whether anything was copied; a chat without an entry stays
// implicit on both ids.
func (s *Store) Migrate(oldID, newID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[oldID]
	if !ok {
		return false
	}
	s.modes[newID] = m
	delete(s.modes, oldID)
	return true
}

func (s *Store) Snapshot() map[int64]Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.modes)
}

// Restore loads persisted entries as-is, replacing the current contents.
func (s *Store) Restore(in map[int64]string) {
	modes := make(map[int64]Mode, len(in))
	for id, raw := range in {
		modes[id] = Mode(raw)
	}
	s.mu.Lock()
	s.modes = modes
	s.mu.Unlock()
}
