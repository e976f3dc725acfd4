package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/rulestore/internal/models"
	"github.com/starford/rulestore/internal/storage"
	"github.com/starford/rulestore/internal/writebehind"
)

// Open creates the store directory layout under dir when needed and
// rebuilds the cache from it. Unreadable slots and a malformed properties
// document degrade to empty values; only a failure to create the layout
// is returned.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		retryDelay: writebehind.DefaultRetryDelay,
		files:      make(map[string]*models.File),
		byIndex:    make(map[uint64]*models.File),
		props:      make(map[string]any),
		units:      make(map[uint64]*writebehind.Writer[slotWrite]),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	disk, err := storage.NewDisk(dir, s.fsys)
	if err != nil {
		return nil, err
	}
	if err := disk.Init(); err != nil {
		return nil, fmt.Errorf("store: init %s: %w", dir, err)
	}
	s.disk = disk
	s.filesDir = disk.FilesDir()

	s.propsUnit = writebehind.New(writebehind.Config[[]byte]{
		Name:       "properties",
		Load:       s.loadPropertiesDoc,
		Persist:    s.disk.WriteProperties,
		RetryDelay: s.retryDelay,
		Logger:     s.logger,
	})

	rewrite := s.bootstrap()

	s.logger.Info("store: opened",
		slog.String("path", disk.Root()),
		slog.Int("files", len(s.files)),
		slog.Uint64("next_index", s.nextIndex))

	// Persist the reconciled order; this also rewrites a properties
	// document that failed to parse.
	s.propsUnit.Request()
	for _, index := range rewrite {
		s.mu.Lock()
		unit := s.unitLocked(index)
		s.mu.Unlock()
		unit.Request()
	}
	return s, nil
}

// bootstrap fills the cache from disk. It returns the indexes of files
// that must be written again because their content could not be moved to
// the canonical slot.
func (s *Store) bootstrap() []uint64 {
	props, err := s.readProperties()
	if err != nil {
		s.logger.Warn("store: properties unreadable, starting empty", slog.String("error", err.Error()))
	}
	persistedOrder, hadOrder := props[models.FilesOrderKey]
	delete(props, models.FilesOrderKey)
	s.props = props

	slots, foreign, err := s.disk.ListSlots()
	if err != nil {
		s.logger.Warn("store: listing files", slog.String("error", err.Error()))
	}
	for _, name := range foreign {
		s.logger.Debug("store: skipping foreign entry", slog.String("entry", name))
	}

	known := orderPositions(persistedOrder)
	var misnamed []storage.Slot
	for _, slot := range slots {
		// Stale slots count too, so their index is never handed out again.
		if slot.Index >= s.nextIndex {
			s.nextIndex = slot.Index + 1
		}
		if !s.claimSlot(slot, known) {
			continue
		}
		data, err := s.readSlot(slot)
		if err != nil {
			s.logger.Warn("store: file unreadable, using empty content",
				slog.String("slot", slot.String()),
				slog.String("error", err.Error()))
		}
		s.byIndex[slot.Index].Data = data
		if !slot.Canonical() {
			misnamed = append(misnamed, slot)
		}
	}

	var rewrite []uint64
	for _, slot := range misnamed {
		rec, ok := s.byIndex[slot.Index]
		if !ok || rec.Name != slot.Name {
			continue
		}
		if !s.adoptSlot(slot) {
			rewrite = append(rewrite, slot.Index)
		}
	}

	s.order = initialOrder(s.files, persistedOrder)
	if hadOrder && !sameNames(persistedOrder, s.order) {
		s.logger.Info("store: files order repaired", slog.Int("files", len(s.order)))
	}
	return rewrite
}

// adoptSlot moves a slot listed under a non-canonical entry name to its
// canonical name, so later writes, renames and removes address the same
// entry. It reports whether the move succeeded.
func (s *Store) adoptSlot(slot storage.Slot) bool {
	canonical := storage.Slot{Index: slot.Index, Name: slot.Name}
	if err := s.disk.RenameSlot(slot, canonical); err != nil {
		s.logger.Warn("store: cannot rename slot to canonical name, rewriting it",
			slog.String("entry", slot.Entry),
			slog.String("slot", canonical.FileName()),
			slog.String("error", err.Error()))
		return false
	}
	s.logger.Info("store: slot renamed to canonical name",
		slog.String("entry", slot.Entry),
		slog.String("slot", canonical.FileName()))
	return true
}

// claimSlot adds slot to the file table unless another slot already owns
// its name or index. Slots are visited in ascending index order, so a
// later slot with the same name is the newer allocation and replaces the
// earlier one. For two names on one index the name listed in the persisted
// order wins.
func (s *Store) claimSlot(slot storage.Slot, known map[string]int) bool {
	if prev, ok := s.byIndex[slot.Index]; ok {
		_, prevKnown := known[prev.Name]
		_, slotKnown := known[slot.Name]
		if prevKnown || !slotKnown {
			s.logger.Warn("store: ignoring slot sharing an index",
				slog.String("slot", slot.FileName()),
				slog.String("kept", prev.Name))
			return false
		}
		delete(s.files, prev.Name)
		delete(s.byIndex, prev.Index)
	}
	if prev, ok := s.files[slot.Name]; ok {
		s.logger.Warn("store: stale slot for file, keeping newer index",
			slog.String("file", slot.Name),
			slog.Uint64("stale_index", prev.Index),
			slog.Uint64("index", slot.Index))
		delete(s.byIndex, prev.Index)
	}
	rec := &models.File{Index: slot.Index, Name: slot.Name}
	s.files[slot.Name] = rec
	s.byIndex[slot.Index] = rec
	return true
}

// readSlot loads one file body. The returned data is never nil.
func (s *Store) readSlot(slot storage.Slot) ([]byte, error) {
	data, err := s.disk.ReadSlot(slot)
	if err != nil {
		return []byte{}, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// readProperties loads the properties document. The returned map is never
// nil, even when err is set.
func (s *Store) readProperties() (map[string]any, error) {
	raw, err := s.disk.ReadProperties()
	if err != nil {
		return map[string]any{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return map[string]any{}, fmt.Errorf("store: parse properties: %w", err)
	}
	if props == nil {
		return map[string]any{}, errors.New("store: properties document is null")
	}
	return props, nil
}

// orderPositions maps each string of a persisted order to its first
// position. Anything but a JSON array yields an empty map.
func orderPositions(persisted any) map[string]int {
	pos := make(map[string]int)
	list, ok := persisted.([]any)
	if !ok {
		return pos
	}
	for i, v := range list {
		name, ok := v.(string)
		if !ok {
			continue
		}
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}
	return pos
}

// initialOrder returns the file names in display order. Names listed in
// the persisted order keep their relative positions; every other name is
// placed by index against its listed neighbours, so two names compare by
// persisted position when both are listed and by index otherwise. Stale
// and duplicate entries are dropped.
func initialOrder(files map[string]*models.File, persisted any) []string {
	byIndex := make([]string, 0, len(files))
	for name := range files {
		byIndex = append(byIndex, name)
	}
	sort.Slice(byIndex, func(i, j int) bool {
		return files[byIndex[i]].Index < files[byIndex[j]].Index
	})

	pos := orderPositions(persisted)
	if len(pos) == 0 {
		return byIndex
	}
	var listed, rest []string
	for _, name := range byIndex {
		if _, ok := pos[name]; ok {
			listed = append(listed, name)
		} else {
			rest = append(rest, name)
		}
	}
	sort.SliceStable(listed, func(i, j int) bool { return pos[listed[i]] < pos[listed[j]] })

	out := make([]string, 0, len(byIndex))
	for len(listed) > 0 && len(rest) > 0 {
		if files[rest[0]].Index < files[listed[0]].Index {
			out = append(out, rest[0])
			rest = rest[1:]
		} else {
			out = append(out, listed[0])
			listed = listed[1:]
		}
	}
	out = append(out, listed...)
	return append(out, rest...)
}

func sameNames(persisted any, order []string) bool {
	list, ok := persisted.([]any)
	if !ok || len(list) != len(order) {
		return false
	}
	for i, v := range list {
		if name, ok := v.(string); !ok || name != order[i] {
			return false
		}
	}
	return true
}
