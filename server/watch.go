package server

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// watch flags a reconfiguration whenever the hosts file or the resolver
// configuration changes on disk. The returned func stops watching.
func (s *Server) watch() func() {
	files := map[string]bool{}
	for _, path := range []string{s.hosts.Path(), s.resolvconf()} {
		if path != "" {
			files[filepath.Clean(path)] = true
		}
	}
	if len(files) == 0 {
		return func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zlog.Warn("File watcher failed", "error", err.Error())
		return func() {}
	}

	// watch directories, the files are often replaced by rename
	dirs := map[string]bool{}
	for path := range files {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			zlog.Warn("File watch failed", "path", dir, "error", err.Error())
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !files[filepath.Clean(event.Name)] || event.Op == fsnotify.Chmod {
					continue
				}
				s.changed.Store(true)
				s.opts.Poller.Wakeup()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zlog.Warn("File watcher error", "error", err.Error())
			}
		}
	}()

	return func() {
		if err := watcher.Close(); err != nil {
			zlog.Warn("File watcher close failed", "error", err.Error())
		}
	}
}
