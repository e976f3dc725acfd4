// Package models defines the domain types for rulestore.
package models

// FilesOrderKey is the reserved property holding the display order of files.
const FilesOrderKey = "filesOrder"

// File is a named blob tracked by the store.
//
// Index is allocated once, on first write, and never reused. Name is the
// logical identity and may change through a rename. Selected is a UI flag
// kept in memory only.
type File struct {
	Index    uint64 `json:"index"`
	Name     string `json:"name"`
	Data     []byte `json:"data"`
	Selected bool   `json:"selected"`
}

// Clone returns a copy of f that shares no memory with it.
func (f *File) Clone() File {
	c := *f
	c.Data = append([]byte{}, f.Data...)
	return c
}
