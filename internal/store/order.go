package store

import (
	"github.com/starford/rulestore/internal/apperr"
)

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func removeName(order []string, name string) []string {
	i := indexOf(order, name)
	if i < 0 {
		return order
	}
	return append(order[:i], order[i+1:]...)
}

func replaceName(order []string, name, newName string) {
	if i := indexOf(order, name); i >= 0 {
		order[i] = newName
	}
}

// moveBefore removes from and reinserts it at to's original position.
// Both names must be present.
func moveBefore(order []string, from, to string) []string {
	i, j := indexOf(order, from), indexOf(order, to)
	out := make([]string, 0, len(order))
	out = append(out, order[:i]...)
	out = append(out, order[i+1:]...)
	out = append(out[:j], append([]string{from}, out[j:]...)...)
	return out
}

// MoveTo moves the file from so it takes the display position held by to.
// Moving up places from directly before to; moving down places it
// directly after. All other files keep their relative order.
func (s *Store) MoveTo(from, to string) error {
	s.mu.Lock()
	if indexOf(s.order, from) < 0 || indexOf(s.order, to) < 0 {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	s.order = moveBefore(s.order, from, to)
	s.mu.Unlock()

	s.propsUnit.Request()
	return nil
}

// Order returns a copy of the display order.
func (s *Store) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.order...)
}

// validOrder converts a normalized JSON value to an order, accepting only
// a permutation of the current file names. s.mu must be held.
func (s *Store) validOrder(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != len(s.files) {
		return nil, false
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, false
		}
		if _, live := s.files[name]; !live {
			return nil, false
		}
		if _, dup := seen[name]; dup {
			return nil, false
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, true
}
