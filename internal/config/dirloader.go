package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/stubsrv/internal/mapping"
)

// DirectoryLoader loads mappings from every *.json/*.yaml/*.yml file under
// Path, in lexical filename order, and tracks each file's modification time
// so a Watcher can later detect changes. Path may be a plain directory or a
// doublestar glob pattern (e.g. "mappings/**/*.json") for recursive
// selection of a subset of files.
type DirectoryLoader struct {
	Path string

	files map[string]time.Time
	mu    sync.RWMutex
}

// LoadError records one file that failed to load without aborting the rest
// of the directory.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// LoadResult is the outcome of loading a directory.
type LoadResult struct {
	Mappings []*mapping.Mapping
	Errors   []LoadError
}

// NewDirectoryLoader returns a loader rooted at path.
func NewDirectoryLoader(path string) *DirectoryLoader {
	return &DirectoryLoader{Path: path, files: make(map[string]time.Time)}
}

// Load reads every mapping file under Path and compiles each into a
// *mapping.Mapping. A file that fails to parse is recorded in
// LoadResult.Errors rather than aborting the whole load.
func (d *DirectoryLoader) Load() (*LoadResult, error) {
	if !isGlobPattern(d.Path) {
		info, err := os.Stat(d.Path)
		if err != nil {
			return nil, fmt.Errorf("config: static mappings directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("config: %s is not a directory", d.Path)
		}
	}

	files, err := d.findMappingFiles()
	if err != nil {
		return nil, fmt.Errorf("config: scanning %s: %w", d.Path, err)
	}

	result := &LoadResult{}
	for _, file := range files {
		mappings, modTime, err := d.loadFile(file)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{Path: file, Err: err})
			continue
		}
		result.Mappings = append(result.Mappings, mappings...)

		d.mu.Lock()
		d.files[file] = modTime
		d.mu.Unlock()
	}
	return result, nil
}

func (d *DirectoryLoader) loadFile(path string) ([]*mapping.Mapping, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")
	wireMappings, err := ParseMappingDocument(data, isJSON)
	if err != nil {
		return nil, time.Time{}, err
	}
	out := make([]*mapping.Mapping, 0, len(wireMappings))
	for _, w := range wireMappings {
		m, err := ToMapping(w)
		if err != nil {
			return nil, time.Time{}, err
		}
		out = append(out, m)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return out, info.ModTime(), nil
}

// isGlobPattern reports whether path contains doublestar glob metacharacters
// rather than naming a plain directory.
func isGlobPattern(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

func (d *DirectoryLoader) findMappingFiles() ([]string, error) {
	if isGlobPattern(d.Path) {
		matches, err := doublestar.FilepathGlob(d.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding glob pattern %q: %w", d.Path, err)
		}
		var files []string
		for _, m := range matches {
			switch strings.ToLower(filepath.Ext(m)) {
			case ".json", ".yaml", ".yml":
				files = append(files, m)
			}
		}
		sort.Strings(files)
		return files, nil
	}

	var files []string
	err := filepath.WalkDir(d.Path, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint: directory entries we cannot stat are skipped, not fatal
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// HasChanges reports every tracked file whose modification time has
// advanced, or that has disappeared, since it was last loaded.
func (d *DirectoryLoader) HasChanges() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var changed []string
	for path, modTime := range d.files {
		info, err := os.Stat(path)
		if err != nil {
			changed = append(changed, path)
			continue
		}
		if info.ModTime().After(modTime) {
			changed = append(changed, path)
		}
	}
	return changed
}

// ReloadFile reloads a single file and returns its compiled mappings.
func (d *DirectoryLoader) ReloadFile(path string) ([]*mapping.Mapping, error) {
	mappings, modTime, err := d.loadFile(path)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.files[path] = modTime
	d.mu.Unlock()
	return mappings, nil
}

// WatchInterval is the default poll interval used by Watcher.
const WatchInterval = 2 * time.Second

// WatchEvent reports one file that changed since the last poll. Mappings
// holds the file's freshly reloaded compiled mappings; it is nil when
// Error is set.
type WatchEvent struct {
	Path     string
	Mappings []*mapping.Mapping
	Error    error
}

// Watcher polls a DirectoryLoader's tracked files on a ticker and emits a
// WatchEvent for each one whose modification time has advanced. There is
// no filesystem-event dependency here: mod-time polling is enough for the
// static-mappings use case and keeps the watch path free of an extra
// dependency.
type Watcher struct {
	loader   *DirectoryLoader
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	eventCh chan WatchEvent
}

// NewWatcher returns a watcher over loader polling at WatchInterval.
func NewWatcher(loader *DirectoryLoader) *Watcher {
	return &Watcher{
		loader:   loader,
		interval: WatchInterval,
		eventCh:  make(chan WatchEvent, 16),
	}
}

// Start begins polling in a background goroutine and returns the event
// channel. Calling Start while already running is a no-op.
func (w *Watcher) Start() <-chan WatchEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return w.eventCh
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	stopCh, doneCh := w.stopCh, w.doneCh
	go w.watchLoop(stopCh, doneCh)
	return w.eventCh
}

// Stop halts polling and blocks until the background goroutine exits.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.running = false
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
}

func (w *Watcher) watchLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			for _, path := range w.loader.HasChanges() {
				mappings, err := w.loader.ReloadFile(path)
				if err != nil {
					w.eventCh <- WatchEvent{Path: path, Error: err}
					continue
				}
				w.eventCh <- WatchEvent{Path: path, Mappings: mappings}
			}
		}
	}
}
