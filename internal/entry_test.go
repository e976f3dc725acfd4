package internal

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/rulestore/internal/testutil"
)

func TestRunStopsWhenInputCloses(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "data")
	cfg.Store.FlushTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := Run(ctx,
		WithConfig(cfg),
		WithLogger(testutil.Logger(t)),
		WithStdio(strings.NewReader(""), &out),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !testutil.Exists(cfg.Store.Path, "files") || !testutil.Exists(cfg.Store.Path, "properties") {
		t.Error("store layout not created")
	}
	if got := testutil.ReadString(t, cfg.Store.Path, "properties"); got != `{"filesOrder":[]}` {
		t.Errorf("properties = %q", got)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestOpenStoreBadPath(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"file": "x"})
	cfg := NewDefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "file")
	if _, err := OpenStore(cfg, testutil.Logger(t)); err == nil {
		t.Fatal("expected error when the store path is a file")
	}
}
