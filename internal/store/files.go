package store

import (
	"log/slog"

	"github.com/starford/rulestore/internal/apperr"
	"github.com/starford/rulestore/internal/models"
	"github.com/starford/rulestore/internal/storage"
)

// WriteFile creates the file or replaces its content. A new file gets the
// next free index and is appended to the display order.
func (s *Store) WriteFile(name string, data []byte) models.File {
	content := append([]byte{}, data...)

	s.mu.Lock()
	rec, ok := s.files[name]
	created := !ok
	if created {
		rec = &models.File{Index: s.nextIndex, Name: name}
		s.nextIndex++
		s.files[name] = rec
		s.byIndex[rec.Index] = rec
		s.order = append(s.order, name)
	}
	rec.Data = content
	out := rec.Clone()
	unit := s.unitLocked(rec.Index)
	s.mu.Unlock()

	if created {
		s.logger.Debug("store: file created",
			slog.String("file", name),
			slog.Uint64("index", out.Index))
		s.propsUnit.Request()
	}
	unit.Request()
	return out
}

// UpdateFile replaces the content of an existing file.
func (s *Store) UpdateFile(name string, data []byte) (models.File, error) {
	content := append([]byte{}, data...)

	s.mu.Lock()
	rec, ok := s.files[name]
	if !ok {
		s.mu.Unlock()
		return models.File{}, apperr.ErrNotFound
	}
	rec.Data = content
	out := rec.Clone()
	unit := s.unitLocked(rec.Index)
	s.mu.Unlock()

	unit.Request()
	return out, nil
}

// ReadFile returns a copy of the file's content.
func (s *Store) ReadFile(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[name]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return append([]byte{}, rec.Data...), nil
}

// RemoveFile drops the file from the cache and deletes its slot in the
// background.
func (s *Store) RemoveFile(name string) error {
	s.mu.Lock()
	rec, ok := s.files[name]
	if !ok {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	delete(s.files, name)
	delete(s.byIndex, rec.Index)
	s.order = removeName(s.order, name)
	unit := s.units[rec.Index]
	slot := storage.Slot{Index: rec.Index, Name: rec.Name}
	s.mu.Unlock()

	if unit != nil {
		unit.Stop()
	}
	s.propsUnit.Request()
	s.removeSlot(unit, slot)
	return nil
}

// RenameFile gives the file a new name. The file keeps its index and its
// display position; the slot is moved in the background.
func (s *Store) RenameFile(name, newName string) error {
	s.mu.Lock()
	rec, ok := s.files[name]
	if !ok {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	if name == newName {
		s.mu.Unlock()
		return nil
	}
	if _, taken := s.files[newName]; taken {
		s.mu.Unlock()
		return apperr.ErrAlreadyExists
	}
	from := storage.Slot{Index: rec.Index, Name: rec.Name}
	delete(s.files, name)
	rec.Name = newName
	s.files[newName] = rec
	replaceName(s.order, name, newName)
	to := storage.Slot{Index: rec.Index, Name: rec.Name}
	unit := s.unitLocked(rec.Index)
	s.mu.Unlock()

	s.propsUnit.Request()
	s.moveSlot(unit, from, to)
	return nil
}

// SetSelected sets the in-memory selection flag of a file. The flag is not
// persisted.
func (s *Store) SetSelected(name string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[name]
	if !ok {
		return apperr.ErrNotFound
	}
	rec.Selected = selected
	return nil
}
