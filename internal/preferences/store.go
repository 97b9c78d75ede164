// Package preferences provides an in-memory store for users' investment
// preferences with JSON persistence and pub/sub for SSE push.
package preferences

import (
	"encoding/json"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"stockfeed/internal/domain"
)

// Event is the wire format for SSE messages.
type Event struct {
	Type       string                       `json:"type"`                 // "snapshot", "set", "delete"
	User       string                       `json:"user,omitempty"`       // set/delete only
	Preference *domain.Preference           `json:"preference,omitempty"` // set only
	Data       map[string]domain.Preference `json:"data,omitempty"`       // snapshot only
}

// Store holds preferences in memory with JSON persistence and pub/sub.
type Store struct {
	mu       sync.RWMutex
	prefs    map[string]domain.Preference // user -> preference
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store, loading persisted state from filePath.
func NewStore(filePath string, log *slog.Logger) *Store {
	s := &Store{
		prefs:    make(map[string]domain.Preference),
		filePath: filePath,
		log:      log,
		subs:     make(map[int]chan Event),
	}
	s.load()
	return s
}

// Snapshot returns a copy of all preferences.
func (s *Store) Snapshot() map[string]domain.Preference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Preference, len(s.prefs))
	for u, p := range s.prefs {
		out[u] = clonePref(p)
	}
	return out
}

// Get returns user's preference and whether one is stored.
func (s *Store) Get(user string) (domain.Preference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[user]
	return clonePref(p), ok
}

// Set validates and stores a preference, persists to disk and broadcasts to
// subscribers.
func (s *Store) Set(user string, p domain.Preference) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p = clonePref(p)

	s.mu.Lock()
	s.prefs[user] = p
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "set", User: user, Preference: &p})
	return nil
}

// Delete removes user's preference, persists to disk and broadcasts to
// subscribers.
func (s *Store) Delete(user string) {
	s.mu.Lock()
	_, ok := s.prefs[user]
	delete(s.prefs, user)
	if ok {
		s.flush()
	}
	s.mu.Unlock()

	if ok {
		s.broadcast(Event{Type: "delete", User: user})
	}
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers without blocking.
func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.log.Debug("dropping preference event for slow subscriber", "sub", id, "type", e.Type)
		}
	}
}

// load reads the JSON file into memory.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // not written yet
	}
	var loaded map[string]domain.Preference
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading preferences file", "error", err)
		return
	}
	if loaded != nil {
		s.prefs = loaded
	}
	s.log.Info("loaded preferences", "users", len(s.prefs))
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *Store) flush() {
	data, err := json.Marshal(s.prefs)
	if err != nil {
		s.log.Error("marshalling preferences", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		s.log.Error("creating preferences dir", "error", err)
		return
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		s.log.Error("writing preferences file", "error", err)
	}
}

// Users returns every user with a stored preference, sorted.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.prefs))
}

func clonePref(p domain.Preference) domain.Preference {
	p.Sectors = slices.Clone(p.Sectors)
	return p
}
