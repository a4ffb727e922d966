package toolpolicy

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domainpolicy "github.com/vizloop/enginecore/internal/domain/toolpolicy"
)

// Watch reloads p from disk whenever its backing file changes out of
// band, e.g. an operator editing allowed_tools.json directly instead of
// going through POST /allowed_tools. Runs until ctx is cancelled.
func Watch(ctx context.Context, p *domainpolicy.Policy, log *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.Path()) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.ReloadFromDisk(); err != nil {
					log.Warn("tool policy reload failed", zap.Error(err))
					continue
				}
				log.Info("tool policy reloaded from disk", zap.Strings("names", p.Snapshot()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("tool policy watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
