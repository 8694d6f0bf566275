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

package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	runsDir = "runs"
	ext     = ".yaml"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// File keeps one YAML document per key under Dir and one per run under Dir/runs.
type File struct {
	Dir string
	mu  sync.Mutex
}

// NewFile creates dir and its runs directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(filepath.Join(dir, runsDir), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create store dir %s", dir)
	}
	return &File{Dir: dir}, nil
}

func (f *File) keyPath(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.Dir, key+ext), nil
}

func (f *File) runPath(id string) (string, error) {
	if !validKey.MatchString(id) {
		return "", errors.Errorf("invalid run id %q", id)
	}
	return filepath.Join(f.Dir, runsDir, id+ext), nil
}

// writeYAML replaces path atomically.
func writeYAML(path string, value any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %s", tmp)
}

func (f *File) Save(ctx context.Context, key string, value any) error {
	path, err := f.keyPath(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeYAML(path, value)
}

func (f *File) Load(ctx context.Context, key string, out any) (bool, error) {
	path, err := f.keyPath(key)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	data, err := os.ReadFile(path)
	f.mu.Unlock()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, errors.Wrapf(err, "decode %s", path)
	}
	return true, nil
}

func (f *File) SaveRun(ctx context.Context, run pipeline.RunRecord) error {
	path, err := f.runPath(run.ID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeYAML(path, run)
}

// LoadAllRuns returns runs newest first. Unreadable files are skipped.
func (f *File) LoadAllRuns(ctx context.Context) ([]pipeline.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Join(f.Dir, runsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var runs []pipeline.RunRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("skip run file %s: %v", path, err)
			continue
		}
		var run pipeline.RunRecord
		if err := yaml.Unmarshal(data, &run); err != nil {
			log.Warn("skip run file %s: %v", path, err)
			continue
		}
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (f *File) DeleteRun(ctx context.Context, id string) error {
	path, err := f.runPath(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "run %s", id)
		}
		return errors.Wrapf(err, "delete run %s", id)
	}
	return nil
}

// Wipe removes every file the store owns and recreates the empty layout.
func (f *File) Wipe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.Dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "list %s", f.Dir)
	}
	for _, e := range entries {
		name := e.Name()
		if name != runsDir && !strings.HasSuffix(name, ext) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(f.Dir, name)); err != nil {
			return errors.Wrapf(err, "remove %s", name)
		}
	}
	return errors.Wrap(os.MkdirAll(filepath.Join(f.Dir, runsDir), 0o755), "recreate runs dir")
}
