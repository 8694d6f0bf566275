// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// ReloadFunc receives the full, re-read content of a changed directory.
type ReloadFunc func(dir string, arts []Artifact)

// Watcher re-reads knowledge directories when their files change.
type Watcher struct {
	reader   Reader
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   chan struct{}
}

func NewWatcher(reader Reader, onReload ReloadFunc) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	return &Watcher{
		reader:   reader,
		watcher:  w,
		onReload: onReload,
		debounce: 300 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period between the last event and a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Add starts watching dir.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "resolve knowledge dir")
	}
	if err := w.watcher.Add(abs); err != nil {
		return errors.Wrapf(err, "watch %s", abs)
	}
	log.Debug("watching knowledge dir %s", abs)
	return nil
}

// Run processes events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(filepath.Dir(ev.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("knowledge watcher: %v", err)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[dir]; ok {
		t.Stop()
	}
	w.timers[dir] = time.AfterFunc(w.debounce, func() {
		w.reload(dir)
	})
}

func (w *Watcher) reload(dir string) {
	arts, err := w.reader.ReadDir(dir)
	if err != nil {
		log.Error("reload knowledge dir %s: %v", dir, err)
		return
	}
	log.Info("reloaded %d knowledge files from %s", len(arts), dir)
	w.onReload(dir, arts)
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
