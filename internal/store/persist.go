package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/rulestore/internal/apperr"
	"github.com/starford/rulestore/internal/models"
	"github.com/starford/rulestore/internal/storage"
	"github.com/starford/rulestore/internal/writebehind"
)

// slotWrite is the value persisted by a file unit: the file's content and
// the slot it belongs in at the time the write starts.
type slotWrite struct {
	slot storage.Slot
	data []byte
}

// loadPropertiesDoc serializes the property map with the current order.
func (s *Store) loadPropertiesDoc() ([]byte, bool) {
	s.mu.Lock()
	doc := make(map[string]any, len(s.props)+1)
	for k, v := range s.props {
		doc[k] = v
	}
	doc[models.FilesOrderKey] = append([]string{}, s.order...)
	data, err := json.Marshal(doc)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("store: encode properties", slog.String("error", err.Error()))
		return nil, false
	}
	return data, true
}

// unitLocked returns the writer for the file with the given index,
// creating it on first use. Units are keyed by index, so a rename keeps
// the file on the same unit. s.mu must be held.
func (s *Store) unitLocked(index uint64) *writebehind.Writer[slotWrite] {
	if u, ok := s.units[index]; ok {
		return u
	}
	u := writebehind.New(writebehind.Config[slotWrite]{
		Name: "file #" + strconv.FormatUint(index, 10),
		Load: func() (slotWrite, bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			rec, ok := s.byIndex[index]
			if !ok {
				return slotWrite{}, false
			}
			return slotWrite{
				slot: storage.Slot{Index: rec.Index, Name: rec.Name},
				data: append([]byte{}, rec.Data...),
			}, true
		},
		Persist: func(w slotWrite) error {
			return s.disk.WriteSlot(w.slot, w.data)
		},
		RetryDelay: s.retryDelay,
		Logger:     s.logger,
	})
	s.units[index] = u
	return u
}

func (s *Store) beginOp() {
	s.mu.Lock()
	if s.opsPending == 0 {
		s.opsIdle = make(chan struct{})
	}
	s.opsPending++
	s.mu.Unlock()
}

func (s *Store) endOp() {
	s.mu.Lock()
	s.opsPending--
	if s.opsPending == 0 {
		close(s.opsIdle)
		s.opsIdle = nil
	}
	s.mu.Unlock()
}

// slotOp runs a best-effort slot operation in the background. It first lets
// any write already issued for the file finish, so the operation sees the
// slot that write produced. Failures are logged and not retried.
func (s *Store) slotOp(kind, slot string, unit *writebehind.Writer[slotWrite], op func() error) {
	s.beginOp()
	go func() {
		defer s.endOp()
		if unit != nil {
			_ = unit.Wait(context.Background())
		}
		err := op()
		switch {
		case err == nil:
			s.logger.Debug("store: slot "+kind+" done", slog.String("slot", slot))
		case errors.Is(err, os.ErrNotExist):
			s.logger.Debug("store: slot "+kind+" skipped, nothing on disk",
				slog.String("slot", slot),
				slog.String("error", err.Error()))
		default:
			s.logger.Warn("store: slot "+kind+" failed",
				slog.String("slot", slot),
				slog.String("error", err.Error()))
		}
	}()
}

// removeSlot deletes the slot of a removed file once its unit is idle and
// then drops the unit. Indexes are never reused, so nothing requests it
// again.
func (s *Store) removeSlot(unit *writebehind.Writer[slotWrite], slot storage.Slot) {
	s.slotOp("remove", slot.FileName(), unit, func() error {
		err := s.disk.RemoveSlot(slot)
		s.mu.Lock()
		if s.units[slot.Index] == unit {
			delete(s.units, slot.Index)
		}
		s.mu.Unlock()
		return err
	})
}

// moveSlot renames the slot of a renamed file once its unit is idle, then
// rewrites the file so the new slot holds the current content even when a
// write under the old name finished last. Nothing is moved when the file
// has been renamed back in the meantime.
func (s *Store) moveSlot(unit *writebehind.Writer[slotWrite], from, to storage.Slot) {
	s.slotOp("rename", from.FileName(), unit, func() error {
		s.mu.Lock()
		rec, live := s.byIndex[from.Index]
		back := live && rec.Name == from.Name
		s.mu.Unlock()
		if back {
			return nil
		}
		err := s.disk.RenameSlot(from, to)
		if live {
			unit.Request()
		}
		return err
	})
}

func (s *Store) waitOps(ctx context.Context) error {
	s.mu.Lock()
	idle := s.opsIdle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every scheduled write and slot operation has finished
// and no retry is pending, or until ctx is done. It does not make writes
// synchronous; mutations issued during Flush may or may not be covered.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.waitOps(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	units := make([]*writebehind.Writer[slotWrite], 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	s.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.propsUnit.Wait(gCtx) })
	for _, u := range units {
		g.Go(func() error { return u.Wait(gCtx) })
	}
	return g.Wait()
}

// Resync schedules a rewrite of the named file's slot.
func (s *Store) Resync(name string) error {
	s.mu.Lock()
	rec, ok := s.files[name]
	if !ok {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	unit := s.unitLocked(rec.Index)
	s.mu.Unlock()
	unit.Request()
	return nil
}

// Reconcile compares the slot directory with the cache. Files whose slot
// is missing and that have no write in progress are scheduled for a
// rewrite. It returns the names of those files. Nothing is done while a
// rename or remove is still pending.
func (s *Store) Reconcile() []string {
	s.mu.Lock()
	busy := s.opsPending > 0
	s.mu.Unlock()
	if busy {
		// A rename or remove is still moving slots around.
		s.logger.Debug("store: reconcile deferred, slot operations pending")
		return nil
	}

	slots, foreign, err := s.disk.ListSlots()
	if err != nil && slots == nil && foreign == nil {
		s.logger.Warn("store: reconcile list failed", slog.String("error", err.Error()))
		return nil
	}
	for _, name := range foreign {
		if !strings.HasPrefix(name, ".") {
			s.logger.Warn("store: foreign entry in files dir", slog.String("entry", name))
		}
	}
	onDisk := make(map[storage.Slot]struct{}, len(slots))
	for _, slot := range slots {
		if slot.Canonical() {
			onDisk[storage.Slot{Index: slot.Index, Name: slot.Name}] = struct{}{}
		}
	}

	var missing []string
	var units []*writebehind.Writer[slotWrite]
	s.mu.Lock()
	for _, name := range s.order {
		rec := s.files[name]
		if _, ok := onDisk[storage.Slot{Index: rec.Index, Name: rec.Name}]; ok {
			continue
		}
		if u, ok := s.units[rec.Index]; ok && u.Busy() {
			continue
		}
		missing = append(missing, name)
		units = append(units, s.unitLocked(rec.Index))
	}
	s.mu.Unlock()

	for i, u := range units {
		s.logger.Info("store: slot missing, rewriting", slog.String("file", missing[i]))
		u.Request()
	}
	return missing
}
