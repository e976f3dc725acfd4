// Package storage defines the on-disk layout of a store directory.
//
// A store directory holds one properties document and a files/ directory
// with one slot per logical file:
//
//	<base>/properties
//	<base>/files/<index>.<encoded-name>
package storage

// Provider is the interface for store directory operations.
type Provider interface {
	// Init creates the base directory, the files directory and an empty
	// properties document when they are missing.
	Init() error
	// ListSlots returns every slot found in the files directory. Entries
	// that do not follow the slot grammar are returned in foreign. Listed
	// slots are addressed by the entry they came from, which may differ
	// from their canonical FileName.
	ListSlots() (slots []Slot, foreign []string, err error)
	// ReadSlot returns the content stored in slot.
	ReadSlot(slot Slot) ([]byte, error)
	// WriteSlot atomically replaces the content of slot.
	WriteSlot(slot Slot, content []byte) error
	// RemoveSlot deletes slot from disk.
	RemoveSlot(slot Slot) error
	// RenameSlot moves the content of from to to.
	RenameSlot(from, to Slot) error
	// ReadProperties returns the raw properties document.
	ReadProperties() ([]byte, error)
	// WriteProperties atomically replaces the properties document.
	WriteProperties(content []byte) error
}
