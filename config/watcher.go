package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads a config file whenever it is written or replaced and
// hands the result to a callback. The directory is watched rather than
// the file so that editors replacing the file are seen as well.
type Watcher struct {
	file     string
	watcher  *fsnotify.Watcher
	onChange func(Config, error)
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher starts watching cfile. onChange is called from the watcher
// go-routine with the new config or the read error.
func NewWatcher(cfile string, onChange func(Config, error)) (*Watcher, error) {
	file, err := filepath.Abs(cfile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfile, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(file)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(file), err)
	}

	w := &Watcher{
		file:     file,
		watcher:  fw,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			slog.Info("Config file changed, reloading", "file", w.file, "op", event.Op.String())
			conf, err := ReadConfig(w.file)
			w.onChange(conf, err)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its go-routine.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
