package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadSettle gives editors time to finish writing before the file is read
const reloadSettle = 50 * time.Millisecond

// ProfileWatcher keeps the platform profile overrides in sync with
// DICTATION_PROFILES_FILE. Connections opened after a change pick up the new
// values; live controllers keep the profile they started with.
type ProfileWatcher struct {
	path    string
	current atomic.Pointer[ProfilesFile]
	logger  zerolog.Logger
}

// NewProfileWatcher starts from the overrides already loaded at startup
func NewProfileWatcher(path string, initial *ProfilesFile, logger zerolog.Logger) *ProfileWatcher {
	w := &ProfileWatcher{
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "profiles").Str("path", path).Logger(),
	}
	w.current.Store(initial)
	return w
}

// Current returns the latest valid overrides
func (w *ProfileWatcher) Current() *ProfilesFile {
	return w.current.Load()
}

// Run watches the file's directory until ctx is done. An invalid file is
// logged and the previous overrides stay in effect.
func (w *ProfileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profiles watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames by editors are seen
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch profiles directory: %w", err)
	}
	w.logger.Info().Msg("Watching platform profiles for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}
			select {
			case <-time.After(reloadSettle):
			case <-ctx.Done():
				return nil
			}
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Profiles watcher error")
		}
	}
}

func (w *ProfileWatcher) reload() {
	profiles, err := LoadProfilesFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Ignoring invalid profiles file")
		return
	}
	w.current.Store(profiles)
	w.logger.Info().Int("profiles", len(profiles.Profiles)).Msg("Platform profiles reloaded")
}
