package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
)

// TriggerFunc is called once a top-level inbox folder has been quiet for
// the debounce interval of its inbox.
type TriggerFunc func(ctx context.Context, inbox conf.Inbox, path string)

type Watcher struct {
	inboxes []conf.Inbox
	trigger TriggerFunc
	notify  *fsnotify.Watcher
	log     *zap.Logger

	timers map[string]*settle
	sync.Mutex
}

// settle is the debounce timer of one top-level folder.
type settle struct {
	timer *time.Timer
}

// New watches every inbox with autotag enabled, recursively.
func New(inboxes []conf.Inbox, trigger TriggerFunc) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		inboxes: make([]conf.Inbox, 0, len(inboxes)),
		trigger: trigger,
		notify:  notify,
		log:     zap.L().With(zap.String("infra", "watcher")),
		timers:  make(map[string]*settle),
	}

	for _, inbox := range inboxes {
		if inbox.AutoTag == conf.AutoTagOff {
			continue
		}

		if err := w.addTree(inbox.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				w.log.Warn("inbox missing", zap.String("path", inbox.Path))
				continue
			}

			notify.Close()
			return nil, err
		}

		w.inboxes = append(w.inboxes, inbox)
		w.log.Info("watching inbox",
			zap.String("inbox", inbox.Name),
			zap.String("path", inbox.Path),
			zap.Duration("debounce", inbox.Debounce),
		)
	}

	return w, nil
}

// Inboxes returns the inboxes being watched.
func (w *Watcher) Inboxes() []conf.Inbox {
	return w.inboxes
}

// Close releases the watcher when Run is never called.
func (w *Watcher) Close() error {
	return w.notify.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}

		return w.notify.Add(path)
	})
}

// Run dispatches file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.notify.Events:
			if !ok {
				return nil
			}

			w.handle(ctx, event)

		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}

			w.log.Error(err.Error())
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if hidden(filepath.Base(event.Name)) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	inbox, ok := w.find(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("watch folder failed",
					zap.String("path", event.Name),
					zap.Error(err),
				)
			}
		}
	}

	top, ok := inbox.TopLevel(event.Name)
	if !ok {
		return
	}

	w.schedule(ctx, inbox, top)
}

func (w *Watcher) find(path string) (conf.Inbox, bool) {
	for _, inbox := range w.inboxes {
		if inbox.Contains(path) {
			return inbox, true
		}
	}

	return conf.Inbox{}, false
}

func (w *Watcher) schedule(ctx context.Context, inbox conf.Inbox, path string) {
	w.Lock()
	defer w.Unlock()

	w.scheduleLocked(ctx, inbox, path)
}

func (w *Watcher) scheduleLocked(ctx context.Context, inbox conf.Inbox, path string) {
	// Reset fails once the timer has fired; its callback may still be
	// waiting on the lock and gives way to the new timer.
	if s, ok := w.timers[path]; ok && s.timer.Reset(inbox.Debounce) {
		return
	}

	s := new(settle)
	w.timers[path] = s

	s.timer = time.AfterFunc(inbox.Debounce, func() {
		w.Lock()
		if w.timers[path] != s {
			w.Unlock()
			return
		}
		delete(w.timers, path)
		w.Unlock()

		if ctx.Err() != nil {
			return
		}

		// removed while settling
		if _, err := os.Stat(path); err != nil {
			return
		}

		w.log.Debug("folder settled",
			zap.String("inbox", inbox.Name),
			zap.String("path", path),
		)

		w.trigger(ctx, inbox, path)
	})
}

func (w *Watcher) stop() {
	w.Lock()
	for path, s := range w.timers {
		s.timer.Stop()
		delete(w.timers, path)
	}
	w.Unlock()

	w.notify.Close()
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
