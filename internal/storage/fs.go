package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	filesDirName       = "files"
	propertiesFileName = "properties"
	emptyProperties    = "{}"
)

// Disk implements Provider on top of a FileSystem.
type Disk struct {
	root  string // absolute path to the store directory
	files string // root/files
	fsys  FileSystem
}

// NewDisk creates a Disk rooted at the given directory. The directory is
// not touched until Init is called. A nil fsys means the local file system.
func NewDisk(root string, fsys FileSystem) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if fsys == nil {
		fsys = Default
	}
	return &Disk{
		root:  abs,
		files: filepath.Join(abs, filesDirName),
		fsys:  fsys,
	}, nil
}

// Root returns the absolute store directory.
func (d *Disk) Root() string { return d.root }

// FilesDir returns the absolute path of the slot directory.
func (d *Disk) FilesDir() string { return d.files }

// Init creates missing directories and an empty properties document.
func (d *Disk) Init() error {
	if err := d.fsys.MkdirAll(d.files, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	info, err := d.fsys.Stat(d.root)
	if err != nil {
		return fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: root is not a directory: %s", d.root)
	}
	props := filepath.Join(d.root, propertiesFileName)
	if _, err := d.fsys.Stat(props); errors.Is(err, os.ErrNotExist) {
		if err := d.writeAtomic(props, []byte(emptyProperties)); err != nil {
			return fmt.Errorf("storage: create properties: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("storage: stat properties: %w", err)
	}
	return nil
}

// slotPath resolves a slot to the absolute path of its entry and rejects any result
// that escapes the files directory.
func (d *Disk) slotPath(s Slot) (string, error) {
	p := filepath.Join(d.files, s.entryName())
	if filepath.Dir(p) != d.files {
		return "", fmt.Errorf("storage: slot escapes files dir: %s", s.entryName())
	}
	return p, nil
}

// ListSlots returns the slots of the files directory sorted by index. Each
// slot carries the entry name it was listed from.
func (d *Disk) ListSlots() ([]Slot, []string, error) {
	entries, err := d.fsys.ReadDir(d.files)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: list: %w", err)
	}
	var slots []Slot
	var foreign []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			foreign = append(foreign, e.Name())
			continue
		}
		s, err := ParseSlot(e.Name())
		switch {
		case errors.Is(err, ErrNotSlot):
			foreign = append(foreign, e.Name())
			continue
		case err != nil:
			errs = append(errs, err)
		}
		slots = append(slots, s)
	}
	// Within one index, canonical entries come first.
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Index != slots[j].Index {
			return slots[i].Index < slots[j].Index
		}
		return slots[i].Canonical() && !slots[j].Canonical()
	})
	return slots, foreign, errors.Join(errs...)
}

// ReadSlot returns the raw bytes of a slot.
func (d *Disk) ReadSlot(s Slot) ([]byte, error) {
	p, err := d.slotPath(s)
	if err != nil {
		return nil, err
	}
	data, err := d.fsys.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", s, err)
	}
	return data, nil
}

// WriteSlot atomically writes content into a slot.
func (d *Disk) WriteSlot(s Slot, content []byte) error {
	p, err := d.slotPath(s)
	if err != nil {
		return err
	}
	if err := d.writeAtomic(p, content); err != nil {
		return fmt.Errorf("storage: write %s: %w", s, err)
	}
	return nil
}

// RemoveSlot deletes a slot.
func (d *Disk) RemoveSlot(s Slot) error {
	p, err := d.slotPath(s)
	if err != nil {
		return err
	}
	if err := d.fsys.Remove(p); err != nil {
		return fmt.Errorf("storage: delete %s: %w", s, err)
	}
	return nil
}

// RenameSlot moves a slot to a new name.
func (d *Disk) RenameSlot(from, to Slot) error {
	oldPath, err := d.slotPath(from)
	if err != nil {
		return err
	}
	newPath, err := d.slotPath(to)
	if err != nil {
		return err
	}
	if err := d.fsys.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("storage: move %s -> %s: %w", from, to, err)
	}
	return nil
}

// ReadProperties returns the raw properties document.
func (d *Disk) ReadProperties() ([]byte, error) {
	data, err := d.fsys.ReadFile(filepath.Join(d.root, propertiesFileName))
	if err != nil {
		return nil, fmt.Errorf("storage: read properties: %w", err)
	}
	return data, nil
}

// WriteProperties atomically replaces the properties document.
func (d *Disk) WriteProperties(content []byte) error {
	if err := d.writeAtomic(filepath.Join(d.root, propertiesFileName), content); err != nil {
		return fmt.Errorf("storage: write properties: %w", err)
	}
	return nil
}

// writeAtomic writes content: tmp file → fsync → rename → dir fsync.
// The temp name starts with a dot so it never parses as a slot.
func (d *Disk) writeAtomic(path string, content []byte) error {
	dir, base := filepath.Split(path)
	tmpName := filepath.Join(dir, "."+base+".tmp")

	tmp, err := d.fsys.OpenFile(tmpName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	// Clean up on any failure path.
	success, closed := false, false
	defer func() {
		if !success {
			if !closed {
				_ = tmp.Close()
			}
			_ = d.fsys.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := d.fsys.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true

	// Syncing the directory is a nice to have, errors are ignored.
	if f, err := os.Open(dir); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	return nil
}
