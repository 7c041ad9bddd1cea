package hooks

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Discovery finds hook configuration files in configured directories
type Discovery struct {
	hookDirs []string
}

// DiscoveryOption is a function that configures a Discovery
type DiscoveryOption func(*Discovery) error

// WithDefaultDirs initializes with default hook directories
func WithDefaultDirs() DiscoveryOption {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.hookDirs = []string{
			"./.activator/hooks",                          // Repo-local (higher precedence)
			filepath.Join(homeDir, ".activator", "hooks"), // User-global
		}
		return nil
	}
}

// WithHookDirs sets custom hook directories
func WithHookDirs(dirs ...string) DiscoveryOption {
	return func(d *Discovery) error {
		d.hookDirs = dirs
		return nil
	}
}

// NewDiscovery creates a new hook discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	d := &Discovery{}

	if len(opts) == 0 {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
	} else {
		for _, opt := range opts {
			if err := opt(d); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

// Dirs returns the directories searched, highest precedence first
func (d *Discovery) Dirs() []string {
	return d.hookDirs
}

// DiscoverFiles returns the hook configuration files found in the configured
// directories. A file name found in an earlier directory shadows the same
// name in later ones. Files within a directory are returned in lexical order.
func (d *Discovery) DiscoverFiles() ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	for _, dir := range d.hookDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read hook directory %s", dir)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, err := FormatFromPath(entry.Name()); err != nil {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			files = append(files, filepath.Join(dir, name))
		}
	}

	return files, nil
}
