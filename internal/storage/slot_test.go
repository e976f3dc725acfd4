package storage

import (
	"errors"
	"testing"
)

func TestEncodeName(t *testing.T) {
	cases := map[string]string{
		"a.txt":     "a%2Etxt",
		"..":        "%2E%2E",
		"rule one":  "rule%20one",
		"dir/rule":  "dir%2Frule",
		"100%":      "100%25",
		"plain":     "plain",
		"":          "",
		"ünïcödé.x": "%C3%BCn%C3%AFc%C3%B6d%C3%A9%2Ex",
	}
	for in, want := range cases {
		if got := EncodeName(in); got != want {
			t.Errorf("EncodeName(%q) = %q, want %q", in, got, want)
		}
		back, err := DecodeName(EncodeName(in))
		if err != nil || back != in {
			t.Errorf("DecodeName(EncodeName(%q)) = %q, %v", in, back, err)
		}
	}
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("0.a%2Etxt")
	if err != nil {
		t.Fatalf("ParseSlot: %v", err)
	}
	if s.Index != 0 || s.Name != "a.txt" {
		t.Errorf("slot = %+v", s)
	}
	if s.FileName() != "0.a%2Etxt" || !s.Canonical() {
		t.Errorf("FileName = %q", s.FileName())
	}

	s, err = ParseSlot("0.a.txt")
	if err != nil || s.Name != "a.txt" || s.Entry != "0.a.txt" || s.Canonical() {
		t.Errorf("ParseSlot(0.a.txt) = %+v, %v", s, err)
	}

	s, err = ParseSlot("42.")
	if err != nil || s.Index != 42 || s.Name != "" {
		t.Errorf("ParseSlot(42.) = %+v, %v", s, err)
	}
}

func TestParseSlotRejectsForeign(t *testing.T) {
	for _, name := range []string{
		"",
		"readme",
		".0.a.tmp",
		"-1.a",
		"+1.a",
		"1a.b",
		".hidden",
		"99999999999999999999999.a",
	} {
		if _, err := ParseSlot(name); !errors.Is(err, ErrNotSlot) {
			t.Errorf("ParseSlot(%q) err = %v, want ErrNotSlot", name, err)
		}
	}
}

func TestParseSlotBadEncodingFallsBack(t *testing.T) {
	s, err := ParseSlot("3.50%")
	if !errors.Is(err, ErrBadEncoding) {
		t.Fatalf("err = %v, want ErrBadEncoding", err)
	}
	if s.Index != 3 || s.Name != "50%" {
		t.Errorf("slot = %+v", s)
	}
}
