package store

import (
	"encoding/json"
	"fmt"

	"github.com/starford/rulestore/internal/apperr"
	"github.com/starford/rulestore/internal/models"
)

// normalize converts v to the value a JSON reload would produce, so the
// cached value never differs from the persisted one.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deepCopy copies a normalized JSON value.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// GetProperty returns a copy of the value stored under key. The files
// order is returned as a []string.
func (s *Store) GetProperty(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == models.FilesOrderKey {
		return append([]string{}, s.order...), true
	}
	v, ok := s.props[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// HasProperty reports whether key is set.
func (s *Store) HasProperty(key string) bool {
	if key == models.FilesOrderKey {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.props[key]
	return ok
}

// SetProperty stores v under key.
func (s *Store) SetProperty(key string, v any) error {
	return s.SetProperties(map[string]any{key: v})
}

// SetProperties merges values into the property map. Either every value is
// applied or none is: a value that does not encode as JSON, or a files
// order that is not a permutation of the current names, rejects the batch.
func (s *Store) SetProperties(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	normalized := make(map[string]any, len(values))
	for k, v := range values {
		n, err := normalize(v)
		if err != nil {
			return fmt.Errorf("store: property %q: %w", k, err)
		}
		normalized[k] = n
	}

	s.mu.Lock()
	var order []string
	if v, ok := normalized[models.FilesOrderKey]; ok {
		o, valid := s.validOrder(v)
		if !valid {
			s.mu.Unlock()
			return apperr.ErrInvalidOrder
		}
		order = o
		delete(normalized, models.FilesOrderKey)
	}
	if order != nil {
		s.order = order
	}
	for k, v := range normalized {
		s.props[k] = v
	}
	s.mu.Unlock()

	s.propsUnit.Request()
	return nil
}

// RemoveProperty deletes key. The files order cannot be removed.
func (s *Store) RemoveProperty(key string) error {
	if key == models.FilesOrderKey {
		return apperr.ErrReservedProperty
	}
	s.mu.Lock()
	if _, ok := s.props[key]; !ok {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	delete(s.props, key)
	s.mu.Unlock()

	s.propsUnit.Request()
	return nil
}

// Properties returns a snapshot of all properties, the files order
// included.
func (s *Store) Properties() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.props)+1)
	for k, v := range s.props {
		out[k] = deepCopy(v)
	}
	out[models.FilesOrderKey] = append([]string{}, s.order...)
	return out
}
