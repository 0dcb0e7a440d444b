package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// ReloadCallback receives the freshly loaded configuration.
type ReloadCallback func(Config)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	callback  ReloadCallback
	cancel    chan struct{}
}

// Watch starts watching path and invokes callback on each successful
// reload. The parent directory is watched so editors that replace the
// file (rename-over) are still observed.
func Watch(path string, callback ReloadCallback) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsW.Add(filepath.Dir(path)); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		path:      path,
		fsWatcher: fsW,
		callback:  callback,
		cancel:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.cancel)
	w.fsWatcher.Close()
}

// loop processes fsnotify events with debouncing.
func (w *Watcher) loop() {
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("config reload failed: %v", err)
		return
	}
	w.callback(cfg)
}
