package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/rulestore/internal/store"
	"github.com/starford/rulestore/internal/testutil"
)

func TestWatchRestoresDeletedSlot(t *testing.T) {
	dir := testutil.StoreDir(t)
	s, err := store.Open(dir, store.WithLogger(testutil.Logger(t)))
	if err != nil {
		t.Fatal(err)
	}
	s.WriteFile("a.txt", []byte("content"))
	if err := s.Flush(testutil.Context(t, 2*time.Second)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var repaired []string
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, s.FilesDir(), s, Options{
			Debounce: 20 * time.Millisecond,
			Logger:   testutil.Logger(t),
			OnRepair: func(names []string) {
				mu.Lock()
				repaired = append(repaired, names...)
				mu.Unlock()
			},
		})
	}()
	time.Sleep(100 * time.Millisecond)

	slot := filepath.Join(s.FilesDir(), "0.a%2Etxt")
	if err := os.Remove(slot); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(repaired) > 0
	}, "no repair reported")
	mu.Lock()
	if repaired[0] != "a.txt" {
		t.Errorf("repaired = %v", repaired)
	}
	mu.Unlock()

	testutil.Eventually(t, 5*time.Second, func() bool {
		data, err := os.ReadFile(slot)
		return err == nil && string(data) == "content"
	}, "deleted slot was not restored")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not stop")
	}
	_ = s.Flush(testutil.Context(t, 2*time.Second))
}

func TestWatchMissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, Options{Logger: testutil.Logger(t)})
	if err == nil {
		t.Fatal("expected error for missing dir")
	}
}
