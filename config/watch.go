package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	done chan struct{}
}

// Watch reloads path on every change and hands each valid result to
// onChange. Load failures go to onError and the previous config stays in
// effect. The parent directory is watched so editors that replace the
// file by rename are seen too.
func Watch(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{w: w, path: abs, done: make(chan struct{})}
	go cw.loop(onChange, onError)
	return cw, nil
}

func (cw *Watcher) loop(onChange func(*Config), onError func(error)) {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(cw.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(cfg)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops watching.
func (cw *Watcher) Close() error {
	err := cw.w.Close()
	<-cw.done
	return err
}
