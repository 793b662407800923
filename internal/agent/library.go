// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change before it
// reloads.
const DefaultDebounce = 250 * time.Millisecond

// =============================================================================
// LIBRARY
// =============================================================================

// Library holds the agent definitions found in one directory.
type Library struct {
	dir      string
	debounce time.Duration

	mu     sync.RWMutex
	defs   map[string]*Definition
	errors map[string]error

	onReload func()
}

// NewLibrary creates an empty library for dir. Call Reload to populate it.
func NewLibrary(dir string) *Library {
	return &Library{
		dir:      dir,
		debounce: DefaultDebounce,
		defs:     map[string]*Definition{},
		errors:   map[string]error{},
	}
}

// Dir returns the directory the library reads.
func (l *Library) Dir() string { return l.dir }

// SetDebounce changes the reload delay used by Watch.
func (l *Library) SetDebounce(d time.Duration) { l.debounce = d }

// OnReload registers a callback invoked after every reload.
func (l *Library) OnReload(fn func()) {
	l.mu.Lock()
	l.onReload = fn
	l.mu.Unlock()
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Reload re-reads every *.yaml and *.yml file in the directory and replaces
// the library contents. Files that fail to parse or validate are skipped and
// reported by Errors; a missing directory yields an empty library.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read agents dir: %w", err)
	}

	defs := map[string]*Definition{}
	errs := map[string]error{}
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		def, err := LoadDefinition(path)
		if err != nil {
			errs[path] = err
			log.Warnf("skipping agent %s: %v", path, err)
			continue
		}
		warnings, err := def.Validate()
		for _, w := range warnings {
			log.Warnf("agent %s: %s", def.ID, w)
		}
		if err != nil {
			errs[path] = err
			log.Warnf("skipping agent %s: %v", path, err)
			continue
		}
		if prev, dup := defs[def.ID]; dup {
			errs[path] = fmt.Errorf("duplicate agent id %q (also in %s)", def.ID, prev.Path)
			log.Warnf("skipping agent %s: duplicate id %q", path, def.ID)
			continue
		}
		defs[def.ID] = def
	}

	l.mu.Lock()
	l.defs = defs
	l.errors = errs
	fn := l.onReload
	l.mu.Unlock()

	log.Debugf("loaded %d agents from %s (%d skipped)", len(defs), l.dir, len(errs))
	if fn != nil {
		fn()
	}
	return nil
}

// Get returns the definition with id.
func (l *Library) Get(id string) (*Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[id]
	return def, ok
}

// List returns all definitions sorted by ID.
func (l *Library) List() []*Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Definition, 0, len(l.defs))
	for _, d := range l.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Errors returns the load errors of the last reload, keyed by file path.
func (l *Library) Errors() map[string]error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]error, len(l.errors))
	for k, v := range l.errors {
		out[k] = v
	}
	return out
}

// =============================================================================
// WATCHING
// =============================================================================

// Watch reloads the library whenever a definition file in the directory is
// written, created, renamed or removed. Bursts of changes are coalesced into
// one reload after the debounce delay. Watch blocks until ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			pending++
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(l.debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("agents watcher error: %v", err)

		case <-timerC:
			timerC = nil
			log.Debugf("reloading agents after %d changes", pending)
			pending = 0
			if err := l.Reload(); err != nil {
				log.Errorf("reload agents: %v", err)
			}
		}
	}
}
