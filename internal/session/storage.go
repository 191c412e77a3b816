// internal/session/storage.go
package session

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
)

// Storage holds one session's private credential and storage state: a
// cookie jar plus per-origin key/value stores. Every isolated session gets
// its own instance, so isolation holds by construction.
type Storage struct {
	mu      sync.RWMutex
	jar     http.CookieJar
	local   map[string]map[string]string
	session map[string]map[string]string
}

// StorageState is a serializable snapshot of the key/value stores, used to
// seed a fresh session with a known state (e.g. an authenticated one).
type StorageState struct {
	Local   map[string]map[string]string `json:"local,omitempty"`
	Session map[string]map[string]string `json:"session,omitempty"`
}

// NewStorage creates empty storage with a fresh cookie jar.
func NewStorage() *Storage {
	jar, _ := cookiejar.New(nil)
	return &Storage{
		jar:     jar,
		local:   make(map[string]map[string]string),
		session: make(map[string]map[string]string),
	}
}

// CookieJar returns the session's private cookie jar.
func (s *Storage) CookieJar() http.CookieJar { return s.jar }

// SetLocal stores a persisted key/value pair for an origin.
func (s *Storage) SetLocal(origin, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local[origin] == nil {
		s.local[origin] = make(map[string]string)
	}
	s.local[origin][key] = value
}

// Local reads a persisted value for an origin.
func (s *Storage) Local(origin, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.local[origin][key]
	return v, ok
}

// SetSessionValue stores an ephemeral key/value pair for an origin.
func (s *Storage) SetSessionValue(origin, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session[origin] == nil {
		s.session[origin] = make(map[string]string)
	}
	s.session[origin][key] = value
}

// SessionValue reads an ephemeral value for an origin.
func (s *Storage) SessionValue(origin, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.session[origin][key]
	return v, ok
}

// Snapshot deep-copies the key/value stores.
func (s *Storage) Snapshot() StorageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StorageState{
		Local:   copyOrigins(s.local),
		Session: copyOrigins(s.session),
	}
}

// Restore replaces the key/value stores with a snapshot. The cookie jar is
// left untouched.
func (s *Storage) Restore(state StorageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = copyOrigins(state.Local)
	s.session = copyOrigins(state.Session)
	if s.local == nil {
		s.local = make(map[string]map[string]string)
	}
	if s.session == nil {
		s.session = make(map[string]map[string]string)
	}
}

func copyOrigins(src map[string]map[string]string) map[string]map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]map[string]string, len(src))
	for origin, kv := range src {
		inner := make(map[string]string, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		dst[origin] = inner
	}
	return dst
}
