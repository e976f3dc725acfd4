package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/rulestore/internal/apperr"
	"github.com/starford/rulestore/internal/checksum"
	"github.com/starford/rulestore/internal/testutil"
)

// cliEnv writes a config pointing at a fresh store and returns a runner
// for one-shot commands.
func cliEnv(t *testing.T) (run func(stdin string, args ...string) (string, error), dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "store:\n  path: " + dataDir + "\n  retry_delay: 1s\n  flush_timeout: 2s\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	run = func(stdin string, args ...string) (string, error) {
		app := newApp()
		var out bytes.Buffer
		app.Writer = &out
		app.Reader = strings.NewReader(stdin)
		err := app.Run(context.Background(), append([]string{"rulestore", "--config", cfgPath}, args...))
		return out.String(), err
	}
	return run, dataDir
}

func TestPutCatList(t *testing.T) {
	run, dataDir := cliEnv(t)

	if out, err := run("allow *", "put", "a.txt"); err != nil || out != "0\ta.txt\n" {
		t.Fatalf("put = %q, %v", out, err)
	}
	if got := testutil.ReadString(t, dataDir, "files/0.a%2Etxt"); got != "allow *" {
		t.Errorf("slot after put = %q", got)
	}

	src := filepath.Join(t.TempDir(), "b.rules")
	if err := os.WriteFile(src, []byte("deny"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run("", "put", "--file", src, "b"); err != nil {
		t.Fatal(err)
	}

	out, err := run("", "cat", "a.txt")
	if err != nil || out != "allow *" {
		t.Errorf("cat = %q, %v", out, err)
	}

	out, err = run("", "ls")
	want := "0\t7\t" + checksum.Short([]byte("allow *")) + "\ta.txt\n" +
		"1\t4\t" + checksum.Short([]byte("deny")) + "\tb\n"
	if err != nil || out != want {
		t.Errorf("ls = %q, %v", out, err)
	}

	out, err = run("", "ls", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil || len(entries) != 2 {
		t.Errorf("ls --json = %q (%v)", out, err)
	}

	if out, _ := run("", "count"); out != "2\n" {
		t.Errorf("count = %q", out)
	}
}

func TestRenameMoveRemove(t *testing.T) {
	run, dataDir := cliEnv(t)
	for _, n := range []string{"a", "b", "c"} {
		if _, err := run(n, "put", n); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := run("", "mv", "a", "z"); err != nil {
		t.Fatal(err)
	}
	if !testutil.Exists(dataDir, "files/0.z") || testutil.Exists(dataDir, "files/0.a") {
		t.Error("slot not renamed on disk")
	}
	if _, err := run("", "move", "c", "z"); err != nil {
		t.Fatal(err)
	}
	if _, err := run("", "rm", "b"); err != nil {
		t.Fatal(err)
	}
	if testutil.Exists(dataDir, "files/1.b") {
		t.Error("slot not removed")
	}

	out, _ := run("", "prop", "get", "filesOrder")
	var order []string
	if err := json.Unmarshal([]byte(out), &order); err != nil || strings.Join(order, ",") != "c,z" {
		t.Errorf("order = %q (%v)", out, err)
	}

	if _, err := run("", "rm", "b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second rm err = %v", err)
	}
	if _, err := run("x", "update", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("update missing err = %v", err)
	}
	if _, err := run("", "mv", "z"); err == nil {
		t.Error("mv with one argument should fail")
	}
}

func TestResync(t *testing.T) {
	run, dataDir := cliEnv(t)
	if _, err := run("allow", "put", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := run("", "resync", "a"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ReadString(t, dataDir, "files/0.a"); got != "allow" {
		t.Errorf("slot after resync = %q", got)
	}
	if _, err := run("", "resync", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("resync missing err = %v", err)
	}
}

func TestPropCommands(t *testing.T) {
	run, _ := cliEnv(t)

	if _, err := run("", "prop", "set", "limits", `{"max": 3}`); err != nil {
		t.Fatal(err)
	}
	out, err := run("", "prop", "get", "limits")
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(out), &v); err != nil || v["max"] != float64(3) {
		t.Errorf("get = %q (%v)", out, err)
	}

	out, err = run("", "prop", "ls")
	if err != nil || !strings.Contains(out, `"filesOrder"`) || !strings.Contains(out, `"limits"`) {
		t.Errorf("ls = %q, %v", out, err)
	}

	if _, err := run("", "prop", "set", "filesOrder", `["ghost"]`); !errors.Is(err, apperr.ErrInvalidOrder) {
		t.Errorf("invalid order err = %v", err)
	}
	if _, err := run("", "prop", "rm", "filesOrder"); !errors.Is(err, apperr.ErrReservedProperty) {
		t.Errorf("reserved err = %v", err)
	}
	if _, err := run("", "prop", "rm", "limits"); err != nil {
		t.Fatal(err)
	}
	if _, err := run("", "prop", "get", "limits"); err == nil {
		t.Error("removed property still readable")
	}
}
