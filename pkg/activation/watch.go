package activation

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/pkg/errors"
)

// DefaultDebounce is how long Watch waits for changes to settle
const DefaultDebounce = 500 * time.Millisecond

const reloadAttempts = 3

// Watch reloads src whenever one of its files or directories changes, until
// ctx is done. Bursts of changes within debounce of each other cause a
// single reload. A failed reload is logged and the previous snapshot stays
// active.
func (s *Service) Watch(ctx context.Context, src Sources, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	w := newSourceWatcher(src)
	for _, dir := range w.ruleDirs {
		if err := addTree(ctx, watcher, dir); err != nil {
			logger.G(ctx).WithError(err).WithField("directory", dir).Warn("failed to watch rule directory")
		}
	}
	for _, dir := range w.parentDirs() {
		if err := watcher.Add(dir); err != nil {
			logger.G(ctx).WithError(err).WithField("directory", dir).Warn("failed to watch directory")
		}
	}

	changes := make(chan string)
	reloads := make(chan struct{}, 1)
	go debounceChanges(ctx, changes, reloads, debounce)

	logger.G(ctx).WithField("directories", len(watcher.WatchList())).Info("watching activation sources")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) && w.underRuleDir(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(ctx, watcher, event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
					}
				}
			}
			logger.G(ctx).WithFields(map[string]interface{}{
				"file":      event.Name,
				"operation": event.Op.String(),
			}).Debug("source change detected")

			select {
			case changes <- event.Name:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("error watching activation sources")
		case <-reloads:
			if err := s.reload(ctx, src, debounce); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return nil
				}
				logger.G(ctx).WithError(err).Warn("reload failed, keeping previous snapshot")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// reload loads src, retrying while a source file is missing. Editors that
// save by rename briefly leave the path empty.
func (s *Service) reload(ctx context.Context, src Sources, delay time.Duration) error {
	return retry.Do(
		func() error {
			return s.Load(ctx, src)
		},
		retry.RetryIf(isTransientLoadError),
		retry.Attempts(reloadAttempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Debug("retrying reload")
		}),
	)
}

func isTransientLoadError(err error) bool {
	return !errors.Is(err, ErrClosed) && errors.Is(err, fs.ErrNotExist)
}

// debounceChanges signals output once no change has arrived for delay
func debounceChanges(ctx context.Context, input <-chan string, output chan<- struct{}, delay time.Duration) {
	var pending *time.Timer
	stop := func() {
		if pending != nil {
			pending.Stop()
		}
	}

	for {
		select {
		case _, ok := <-input:
			if !ok {
				stop()
				return
			}
			stop()
			pending = time.AfterFunc(delay, func() {
				select {
				case output <- struct{}{}:
				default:
				}
			})
		case <-ctx.Done():
			stop()
			return
		}
	}
}

func addTree(ctx context.Context, watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		logger.G(ctx).WithField("directory", path).Debug("adding directory to watcher")
		return watcher.Add(path)
	})
}

// sourceWatcher decides which file system events concern a set of sources
type sourceWatcher struct {
	ruleDirs []string
	files    map[string]bool
	hookDirs []string
}

func newSourceWatcher(src Sources) *sourceWatcher {
	w := &sourceWatcher{files: make(map[string]bool)}
	for _, dir := range src.RuleDirs {
		w.ruleDirs = append(w.ruleDirs, filepath.Clean(dir))
	}
	for _, f := range append(append([]string(nil), src.RuleFiles...), src.HookFiles...) {
		w.files[filepath.Clean(f)] = true
	}
	for _, dir := range src.HookDirs {
		w.hookDirs = append(w.hookDirs, filepath.Clean(dir))
	}
	return w
}

// parentDirs are the directories to watch for individual files and hook
// directories. Files are watched through their directory so that editors
// which replace a file on save are noticed.
func (w *sourceWatcher) parentDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if seen[dir] {
			return
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	for f := range w.files {
		add(filepath.Dir(f))
	}
	for _, dir := range w.hookDirs {
		add(dir)
	}
	return dirs
}

func (w *sourceWatcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.files[name] || w.underRuleDir(name) {
		return true
	}
	for _, dir := range w.hookDirs {
		if filepath.Dir(name) == dir {
			_, err := hooks.FormatFromPath(name)
			return err == nil
		}
	}
	return false
}

func (w *sourceWatcher) underRuleDir(name string) bool {
	for _, dir := range w.ruleDirs {
		rel, err := filepath.Rel(dir, name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		hidden := false
		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if strings.HasPrefix(part, ".") {
				hidden = true
				break
			}
		}
		if !hidden {
			return true
		}
	}
	return false
}
