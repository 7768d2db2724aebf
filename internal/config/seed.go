package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/script"
	"github.com/mudpienet/mudpie/internal/world"
)

// stem returns a file name without its extension, for matching against a
// Program's name case-insensitively.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SeedPrograms walks dirs, and for every file whose stem matches an
// existing Program's name, loads the file's content as that program's
// source and invalidates its compiled form so the next invocation
// recompiles from disk.
func SeedPrograms(ctx context.Context, dirs []string, w *world.World, engine *script.Engine, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	programs, err := w.ListByKind(ctx, model.KindProgram)
	if err != nil {
		return err
	}
	byName := make(map[string]*model.Program, len(programs))
	for _, obj := range programs {
		p, ok := obj.(*model.Program)
		if !ok {
			continue
		}
		byName[strings.ToLower(p.Base().Name)] = p
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("seed: cannot read program directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			p, ok := byName[strings.ToLower(stem(entry.Name()))]
			if !ok {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			source, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("seed: cannot read program source", zap.String("path", path), zap.Error(err))
				continue
			}
			p.Source = string(source)
			if err := w.Save(ctx, p); err != nil {
				logger.Warn("seed: cannot save reloaded program", zap.String("path", path), zap.Error(err))
				continue
			}
			engine.Invalidate(p.Ref())
			logger.Info("seed: reloaded program source", zap.String("program", p.Base().Name), zap.String("path", path))
		}
	}
	return nil
}

// Watcher watches a set of program-source directories and re-seeds on any
// write, mirroring internal/core/db.go's Engine.WatchFile hot-reload idiom
// generalized from a single file to a directory set.
type Watcher struct {
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
}

// WatchProgramDirs installs a Watcher over dirs that calls SeedPrograms
// again whenever a file inside one of them is written.
func WatchProgramDirs(ctx context.Context, dirs []string, w *world.World, engine *script.Engine, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("watch: cannot watch program directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher := &Watcher{fsw: fsw, cancel: cancel}

	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := SeedPrograms(watchCtx, dirs, w, engine, logger); err != nil {
					logger.Warn("watch: re-seed failed", zap.Error(err))
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("watch: fsnotify error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}

// Close stops the watcher and releases its file descriptors.
func (w *Watcher) Close() error {
	w.cancel()
	return w.fsw.Close()
}
