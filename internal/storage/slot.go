package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrNotSlot is returned by ParseSlot for entries outside the slot grammar.
	ErrNotSlot = errors.New("storage: not a slot name")
	// ErrBadEncoding is returned by ParseSlot together with a usable Slot
	// when the name part could not be percent-decoded. The slot then
	// carries the raw name part.
	ErrBadEncoding = errors.New("storage: bad slot name encoding")
)

// Slot identifies the physical entry of a logical file.
//
// Entry is the directory entry a slot was listed from. It is empty for
// slots built in memory, which always live under FileName.
type Slot struct {
	Index uint64
	Name  string
	Entry string
}

// Canonical reports whether the slot lives under its canonical entry name.
func (s Slot) Canonical() bool {
	return s.Entry == "" || s.Entry == s.FileName()
}

// entryName returns the directory entry holding the slot.
func (s Slot) entryName() string {
	if s.Entry != "" {
		return s.Entry
	}
	return s.FileName()
}

// FileName returns the on-disk entry name: "<index>.<encoded-name>".
func (s Slot) FileName() string {
	return strconv.FormatUint(s.Index, 10) + "." + EncodeName(s.Name)
}

func (s Slot) String() string {
	return s.entryName()
}

// EncodeName percent-encodes name so it is safe as a single path segment.
// Dots are escaped too, so "." and ".." can never be produced.
func EncodeName(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), ".", "%2E")
}

// DecodeName reverses EncodeName.
func DecodeName(encoded string) (string, error) {
	return url.PathUnescape(encoded)
}

// ParseSlot parses an entry name of the form "<index>.<encoded-name>".
// The index is one or more ASCII digits.
func ParseSlot(entry string) (Slot, error) {
	dot := strings.IndexByte(entry, '.')
	if dot <= 0 {
		return Slot{}, ErrNotSlot
	}
	digits := entry[:dot]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Slot{}, ErrNotSlot
		}
	}
	idx, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return Slot{}, ErrNotSlot
	}
	raw := entry[dot+1:]
	name, err := DecodeName(raw)
	if err != nil {
		return Slot{Index: idx, Name: raw, Entry: entry}, fmt.Errorf("%w: %q: %v", ErrBadEncoding, entry, err)
	}
	return Slot{Index: idx, Name: name, Entry: entry}, nil
}
