package script

import (
	"sync"

	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// StateAccess is the capability scripts get for the shared state map.
// Sequential runs (and begin/end stages, which always run on the
// coordinator) receive the real store; parallel per-event stages receive
// a sentinel that rejects every operation.
type StateAccess interface {
	Get(key string) (interface{}, bool, error)
	Set(key string, value interface{}) error
	Merge(values map[string]interface{}) error
	Clear() error
	Len() (int, error)
	Snapshot() (map[string]interface{}, error)
}

// StateMap is the process-wide mutable scratch map. The lock guards one
// map operation at a time and is never held across a stage boundary.
type StateMap struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// NewStateMap creates an empty state map.
func NewStateMap() *StateMap {
	return &StateMap{m: make(map[string]interface{})}
}

// Get returns the value stored under key.
func (s *StateMap) Get(key string) (interface{}, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *StateMap) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// Merge stores every entry of values.
func (s *StateMap) Merge(values map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.m[k] = v
	}
	return nil
}

// Clear removes every entry.
func (s *StateMap) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]interface{})
	return nil
}

// Len returns the number of entries.
func (s *StateMap) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m), nil
}

// Snapshot returns a shallow copy of the map.
func (s *StateMap) Snapshot() (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

// DeniedState rejects every operation with a Hard error. It is the
// capability handed to parallel workers.
type DeniedState struct{}

func (DeniedState) Get(key string) (interface{}, bool, error) {
	return nil, false, lserrors.StateUnavailable("state[" + key + "]")
}

func (DeniedState) Set(key string, value interface{}) error {
	return lserrors.StateUnavailable("state_set")
}

func (DeniedState) Merge(values map[string]interface{}) error {
	return lserrors.StateUnavailable("state_merge")
}

func (DeniedState) Clear() error {
	return lserrors.StateUnavailable("state_clear")
}

func (DeniedState) Len() (int, error) {
	return 0, lserrors.StateUnavailable("size(state)")
}

func (DeniedState) Snapshot() (map[string]interface{}, error) {
	return nil, lserrors.StateUnavailable("state")
}
