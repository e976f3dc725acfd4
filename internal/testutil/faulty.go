package testutil

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/starford/rulestore/internal/storage"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault error")

// Fault describes how operations on matching paths fail.
type Fault struct {
	FailWrite  bool // OpenFile for writing fails
	FailRename bool
	FailRemove bool
	Err        error
}

// FaultyFS wraps a storage.FileSystem and injects errors for paths that
// contain a registered pattern. It can also hold writes on a gate so tests
// can overlap requests with an in-flight write.
type FaultyFS struct {
	FS storage.FileSystem

	mu     sync.Mutex
	rules  map[string]Fault
	gates  map[string]*Gate
	writes map[string]int // pattern -> completed writes
}

// Gate blocks writes to matching paths until Release is called.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed when the first write reaches the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets blocked and future writes through.
func (g *Gate) Release() { close(g.release) }

// NewFaultyFS wraps fs, or the local file system when fs is nil.
func NewFaultyFS(fs storage.FileSystem) *FaultyFS {
	if fs == nil {
		fs = storage.Default
	}
	return &FaultyFS{
		FS:     fs,
		rules:  make(map[string]Fault),
		gates:  make(map[string]*Gate),
		writes: make(map[string]int),
	}
}

// AddRule registers a fault for paths containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

// ClearRule removes the fault registered for pattern.
func (f *FaultyFS) ClearRule(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, pattern)
}

// Hold installs a gate on writes to paths containing pattern.
func (f *FaultyFS) Hold(pattern string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gates[pattern] = g
	f.mu.Unlock()
	return g
}

// Writes returns how many write attempts matched pattern since Count.
func (f *FaultyFS) Writes(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[pattern]
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}
	return Fault{}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (storage.File, error) {
	writing := flag&(os.O_WRONLY|os.O_RDWR) != 0
	if writing {
		f.mu.Lock()
		var gates []*Gate
		for pattern, g := range f.gates {
			if strings.Contains(name, pattern) {
				gates = append(gates, g)
			}
		}
		for pattern := range f.writes {
			if strings.Contains(name, pattern) {
				f.writes[pattern]++
			}
		}
		f.mu.Unlock()
		for _, g := range gates {
			g.once.Do(func() { close(g.entered) })
			<-g.release
		}
		if rule, ok := f.match(name); ok && rule.FailWrite {
			return nil, rule.Err
		}
	}
	return f.FS.OpenFile(name, flag, perm)
}

// Count starts counting writes to paths containing pattern.
func (f *FaultyFS) Count(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.writes[pattern]; !ok {
		f.writes[pattern] = 0
	}
}

func (f *FaultyFS) ReadFile(name string) ([]byte, error) { return f.FS.ReadFile(name) }

func (f *FaultyFS) Remove(name string) error {
	if rule, ok := f.match(name); ok && rule.FailRemove {
		return rule.Err
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if rule, ok := f.match(oldpath); ok && rule.FailRename {
		return rule.Err
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }
