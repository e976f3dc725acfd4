package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(filepath.Join(t.TempDir(), "store"), nil)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

func TestInitCreatesLayout(t *testing.T) {
	d := tempDisk(t)
	if info, err := os.Stat(d.FilesDir()); err != nil || !info.IsDir() {
		t.Fatalf("files dir missing: %v", err)
	}
	got, err := d.ReadProperties()
	if err != nil {
		t.Fatalf("ReadProperties: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("properties = %q, want {}", got)
	}
}

func TestInitKeepsExistingProperties(t *testing.T) {
	d := tempDisk(t)
	if err := d.WriteProperties([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteProperties: %v", err)
	}
	if err := d.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	got, _ := d.ReadProperties()
	if string(got) != `{"a":1}` {
		t.Errorf("properties = %q", got)
	}
}

func TestInitRootIsFile(t *testing.T) {
	f, _ := os.CreateTemp("", "rulestore-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	d, err := NewDisk(f.Name(), nil)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if err := d.Init(); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestWriteAndReadSlot(t *testing.T) {
	d := tempDisk(t)
	s := Slot{Index: 0, Name: "a.txt"}
	if err := d.WriteSlot(s, []byte("hello")); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.FilesDir(), "0.a%2Etxt")); err != nil {
		t.Fatalf("slot file missing: %v", err)
	}
	got, err := d.ReadSlot(s)
	if err != nil {
		t.Fatalf("ReadSlot: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q", got)
	}
}

func TestSlotNameWithSlashStaysInFilesDir(t *testing.T) {
	d := tempDisk(t)
	s := Slot{Index: 3, Name: "../../etc/passwd"}
	if err := d.WriteSlot(s, []byte("x")); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	entries, _ := os.ReadDir(d.FilesDir())
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	back, err := ParseSlot(entries[0].Name())
	if err != nil || back != s {
		t.Errorf("ParseSlot(%q) = %+v, %v", entries[0].Name(), back, err)
	}
}

func TestRemoveAndRenameSlot(t *testing.T) {
	d := tempDisk(t)
	a := Slot{Index: 1, Name: "a"}
	b := Slot{Index: 1, Name: "b"}
	_ = d.WriteSlot(a, []byte("data"))

	if err := d.RenameSlot(a, b); err != nil {
		t.Fatalf("RenameSlot: %v", err)
	}
	if _, err := d.ReadSlot(a); err == nil {
		t.Error("old slot should not exist")
	}
	got, _ := d.ReadSlot(b)
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}

	if err := d.RemoveSlot(b); err != nil {
		t.Fatalf("RemoveSlot: %v", err)
	}
	if _, err := d.ReadSlot(b); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadSlot after remove err = %v", err)
	}
	if err := d.RemoveSlot(b); err == nil {
		t.Error("removing a missing slot should fail")
	}
}

func TestListSlots(t *testing.T) {
	d := tempDisk(t)
	_ = d.WriteSlot(Slot{Index: 10, Name: "ten"}, nil)
	_ = d.WriteSlot(Slot{Index: 2, Name: "two"}, nil)
	_ = os.WriteFile(filepath.Join(d.FilesDir(), "readme"), nil, 0o644)
	_ = os.WriteFile(filepath.Join(d.FilesDir(), "7.bad%zz"), nil, 0o644)
	_ = os.Mkdir(filepath.Join(d.FilesDir(), "5.dir"), 0o755)

	slots, foreign, err := d.ListSlots()
	if !errors.Is(err, ErrBadEncoding) {
		t.Errorf("err = %v, want ErrBadEncoding", err)
	}
	want := []Slot{
		{Index: 2, Name: "two", Entry: "2.two"},
		{Index: 7, Name: "bad%zz", Entry: "7.bad%zz"},
		{Index: 10, Name: "ten", Entry: "10.ten"},
	}
	if len(slots) != len(want) {
		t.Fatalf("slots = %+v", slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Errorf("slots[%d] = %+v, want %+v", i, slots[i], want[i])
		}
	}
	if slots[1].Canonical() {
		t.Error("undecodable entry should not be canonical")
	}
	if len(foreign) != 2 {
		t.Errorf("foreign = %v, want 2 entries", foreign)
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	d := tempDisk(t)
	s := Slot{Index: 0, Name: "atomic"}
	_ = d.WriteSlot(s, []byte("original content"))
	if err := d.WriteSlot(s, []byte("updated content")); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	got, _ := d.ReadSlot(s)
	if string(got) != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(d.FilesDir(), ".*.tmp"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestListedSlotReadsItsEntry(t *testing.T) {
	d := tempDisk(t)
	_ = os.WriteFile(filepath.Join(d.FilesDir(), "0.a.txt"), []byte("dotted"), 0o644)
	_ = os.WriteFile(filepath.Join(d.FilesDir(), "0.a%2Etxt"), []byte("canonical"), 0o644)
	_ = os.WriteFile(filepath.Join(d.FilesDir(), "1.b%2etxt"), []byte("lower"), 0o644)

	slots, _, err := d.ListSlots()
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots = %+v", slots)
	}
	if slots[0].Entry != "0.a%2Etxt" || slots[1].Entry != "0.a.txt" {
		t.Errorf("canonical entry should sort first: %+v", slots[:2])
	}
	for _, s := range slots {
		data, err := d.ReadSlot(s)
		if err != nil {
			t.Fatalf("ReadSlot(%s): %v", s, err)
		}
		if want := map[string]string{"0.a.txt": "dotted", "0.a%2Etxt": "canonical", "1.b%2etxt": "lower"}[s.Entry]; string(data) != want {
			t.Errorf("ReadSlot(%s) = %q, want %q", s, data, want)
		}
	}

	lower := slots[2]
	if lower.Canonical() || lower.Name != "b.txt" {
		t.Fatalf("slot = %+v", lower)
	}
	if err := d.RenameSlot(lower, Slot{Index: lower.Index, Name: lower.Name}); err != nil {
		t.Fatalf("RenameSlot: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(d.FilesDir(), "1.b%2Etxt")); string(got) != "lower" {
		t.Errorf("canonical slot = %q", got)
	}
}
