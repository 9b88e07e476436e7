package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// DefaultSettleWindow matches the write-finish threshold of the dashboard UI
const DefaultSettleWindow = 500 * time.Millisecond

// a path waiting for its writes to settle
type pendingChange struct {
	timer *time.Timer
	kind  model.ChangeKind
}

type FsWatcher struct {
	watcher      *fsnotify.Watcher
	logger       outbound.Logger
	settle       time.Duration
	events       chan model.ChangeEvent
	errors       chan error
	settled      chan model.ChangeEvent
	debouncer    map[string]*pendingChange
	watchedDirs  map[string]bool
	roots        map[string]bool
	pendingRoots map[string]string // missing root -> nearest watched ancestor, "" if none
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	running      bool
	stopped      bool
	wg           sync.WaitGroup
}

func NewFSWatcher(settle time.Duration, logger outbound.Logger) (outbound.FileWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if settle < 0 {
		settle = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	fw := &FsWatcher{
		watcher:      fsWatcher,
		logger:       logger,
		settle:       settle,
		events:       make(chan model.ChangeEvent, 1000),
		errors:       make(chan error, 100),
		settled:      make(chan model.ChangeEvent, 100),
		debouncer:    make(map[string]*pendingChange),
		watchedDirs:  make(map[string]bool),
		roots:        make(map[string]bool),
		pendingRoots: make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
	}

	fw.wg.Add(2)
	go fw.filterEvents()
	go fw.processSettledEvents()

	return fw, nil
}

// Watch starts monitoring root and every directory below it. A root that
// does not exist yet is watched through its nearest existing ancestor and
// picked up once created.
func (fw *FsWatcher) Watch(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", root, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return fmt.Errorf("watcher stopped")
	}

	// check if we're already watching this root
	if fw.roots[absRoot] {
		return nil
	}

	info, err := os.Stat(absRoot)
	switch {
	case err == nil && info.IsDir():
		if err := fw.addDirLocked(absRoot); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", absRoot, err)
		}
		fw.addTreeLocked(absRoot)
	case err == nil:
		return fmt.Errorf("watch root %s is not a directory", absRoot)
	case errors.Is(err, fs.ErrNotExist):
		fw.logger.Info("Watch root does not exist yet, waiting for it", "root", absRoot)
		fw.resolveRootLocked(absRoot)
	default:
		return fmt.Errorf("failed to stat %s: %w", absRoot, err)
	}

	fw.roots[absRoot] = true
	fw.running = true

	return nil
}

// resolveRootLocked watches root when it exists and returns the files found
// in it. Otherwise root stays pending on its nearest existing ancestor.
func (fw *FsWatcher) resolveRootLocked(root string) ([]string, bool) {
	for {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			if err := fw.addDirLocked(root); err != nil {
				fw.logger.Warn("Failed to watch root", "root", root, "error", err)
				fw.pendingRoots[root] = ""
				return nil, false
			}
			delete(fw.pendingRoots, root)
			return fw.addTreeLocked(root), true
		}

		anchor := fw.anchorLocked(root)
		fw.pendingRoots[root] = anchor
		if anchor == "" {
			fw.logger.Warn("No existing ancestor to watch for root", "root", root)
			return nil, false
		}

		// the next level may have appeared before the anchor watch was in place
		if _, err := os.Stat(childToward(anchor, root)); err != nil {
			fw.logger.Debug("Waiting for root", "root", root, "anchor", anchor)
			return nil, false
		}
	}
}

// anchorLocked watches the nearest existing ancestor of root
func (fw *FsWatcher) anchorLocked(root string) string {
	dir := filepath.Dir(root)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			err := fw.addDirLocked(dir)
			if err == nil {
				return dir
			}
			fw.logger.Debug("Cannot watch ancestor", "path", dir, "error", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// settleRootLocked re-resolves a root and emits the files of a root that appeared
func (fw *FsWatcher) settleRootLocked(root string) {
	previous := fw.pendingRoots[root]

	files, ready := fw.resolveRootLocked(root)
	if previous != fw.pendingRoots[root] || ready {
		fw.releaseAnchorLocked(previous)
	}
	if !ready {
		return
	}

	fw.logger.Info("Watch root appeared, watching it", "root", root)
	// files written before the directory watch was registered
	for _, file := range files {
		fw.debounceEventLocked(file, model.ChangeCreated)
	}
}

// releaseAnchorLocked drops an ancestor watch nothing needs anymore
func (fw *FsWatcher) releaseAnchorLocked(anchor string) {
	if anchor == "" || !fw.watchedDirs[anchor] {
		return
	}
	if _, pending := fw.pendingRoots[anchor]; fw.roots[anchor] && !pending {
		return
	}
	if fw.withinRootLocked(anchor) {
		return
	}
	for _, other := range fw.pendingRoots {
		if other == anchor {
			return
		}
	}

	_ = fw.watcher.Remove(anchor)
	delete(fw.watchedDirs, anchor)
}

// childToward returns the direct child of dir on the way to path
func childToward(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	return filepath.Join(dir, first)
}

func (fw *FsWatcher) addDirLocked(dir string) error {
	if fw.watchedDirs[dir] {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return err
	}
	fw.watchedDirs[dir] = true
	return nil
}

// addTreeLocked watches every directory below dir and returns the files found.
// Entries vanishing during the walk are expected and skipped.
func (fw *FsWatcher) addTreeLocked(dir string) []string {
	var files []string

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.logger.Debug("Skipping path during watch walk", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			files = append(files, path)
			return nil
		}

		if err := fw.addDirLocked(path); err != nil {
			fw.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})

	return files
}

func (fw *FsWatcher) Stop() error {
	// cancel before locking: an emitter blocked on a full channel holds the lock
	fw.cancel()

	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	fw.running = false

	// cleanup all debounce timers
	fw.cleanupDebouncers()
	fw.mu.Unlock()

	// close fsnotify watcher
	closeErr := fw.watcher.Close()

	// wait for goroutines to finish
	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	if closeErr != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", closeErr)
	}
	return nil
}

func (fw *FsWatcher) Events() <-chan model.ChangeEvent {
	return fw.events
}

func (fw *FsWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FsWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.running
}

func (fw *FsWatcher) GetWatchedPaths() []string {
	fw.mu.RLock()
	defer fw.mu.RUnlock()

	paths := make([]string, 0, len(fw.watchedDirs))
	for path := range fw.watchedDirs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// filterEvents keeps the watch set in sync with the tree and debounces
// every relevant event per path
func (fw *FsWatcher) filterEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.reportError(err)
		}
	}
}

// transient errors are logged and never block the event loop
func (fw *FsWatcher) reportError(err error) {
	fw.logger.Warn("File watcher error", "error", err)

	select {
	case fw.errors <- err:
	default:
	}
}

func (fw *FsWatcher) handleEvent(event fsnotify.Event) {
	kind, ok := convertOp(event.Op)
	if !ok {
		return
	}

	path := filepath.Clean(event.Name)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return
	}

	switch kind {
	case model.ChangeCreated:
		fw.handleCreateLocked(path)
	case model.ChangeDeleted, model.ChangeRenamed:
		fw.handleRemoveLocked(path)
	}

	if fw.withinRootLocked(path) {
		fw.debounceEventLocked(path, kind)
	}
}

func (fw *FsWatcher) handleCreateLocked(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// created and removed before we looked
		fw.logger.Debug("Created path vanished before stat", "path", path, "error", err)
		return
	}
	if !info.IsDir() {
		return
	}

	// pending roots at or below the new directory move closer or appear
	for _, root := range fw.pendingRootsLocked() {
		if root == path || isWithin(path, root) {
			fw.settleRootLocked(root)
		}
	}

	if !fw.withinRootLocked(path) {
		return
	}

	// files written before the directory watch was registered
	for _, file := range fw.addTreeLocked(path) {
		fw.debounceEventLocked(file, model.ChangeCreated)
	}
}

func (fw *FsWatcher) handleRemoveLocked(path string) {
	if !fw.watchedDirs[path] {
		return
	}

	for dir := range fw.watchedDirs {
		if dir == path || isWithin(path, dir) {
			_ = fw.watcher.Remove(dir)
			delete(fw.watchedDirs, dir)
		}
	}

	// removed roots go back to waiting, pending roots that lost their anchor climb
	roots := make([]string, 0, len(fw.roots))
	for root := range fw.roots {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		anchor, pending := fw.pendingRoots[root]
		switch {
		case pending && anchor != "" && !fw.watchedDirs[anchor]:
			fw.settleRootLocked(root)
		case !pending && (root == path || isWithin(path, root)):
			fw.settleRootLocked(root)
		}
	}
}

func (fw *FsWatcher) pendingRootsLocked() []string {
	roots := make([]string, 0, len(fw.pendingRoots))
	for root := range fw.pendingRoots {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

func (fw *FsWatcher) withinRootLocked(path string) bool {
	for root := range fw.roots {
		if _, pending := fw.pendingRoots[root]; pending {
			continue
		}
		if isWithin(root, path) {
			return true
		}
	}
	return false
}

// isWithin reports whether path is strictly below dir
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// processSettledEvents forwards settled events to subscribers
func (fw *FsWatcher) processSettledEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event := <-fw.settled:
			select {
			case fw.events <- event:
			case <-fw.ctx.Done():
				return
			}
		}
	}
}

// debounceEventLocked applies the write-settled delay per path; the last kind wins
func (fw *FsWatcher) debounceEventLocked(path string, kind model.ChangeKind) {
	if fw.settle == 0 {
		fw.emit(model.ChangeEvent{Path: path, Kind: kind})
		return
	}

	if pending, exists := fw.debouncer[path]; exists {
		pending.kind = kind
		pending.timer.Reset(fw.settle)
		return
	}

	pending := &pendingChange{kind: kind}
	pending.timer = time.AfterFunc(fw.settle, func() {
		fw.mu.Lock()
		current, exists := fw.debouncer[path]
		if !exists || current != pending {
			fw.mu.Unlock()
			return
		}
		delete(fw.debouncer, path)
		event := model.ChangeEvent{Path: path, Kind: current.kind}
		fw.mu.Unlock()

		fw.emit(event)
	})
	fw.debouncer[path] = pending
}

func (fw *FsWatcher) emit(event model.ChangeEvent) {
	select {
	case fw.settled <- event:
	case <-fw.ctx.Done():
	}
}

// cleanupDebouncers stops and removes all debounce timers
func (fw *FsWatcher) cleanupDebouncers() {
	for _, pending := range fw.debouncer {
		pending.timer.Stop()
	}
	fw.debouncer = make(map[string]*pendingChange)
}

// convertOp maps fsnotify operations to change kinds, chmod is ignored
func convertOp(op fsnotify.Op) (model.ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return model.ChangeCreated, true
	case op.Has(fsnotify.Write):
		return model.ChangeModified, true
	case op.Has(fsnotify.Remove):
		return model.ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return model.ChangeRenamed, true
	default:
		return 0, false
	}
}
