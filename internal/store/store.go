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

// Package store persists the agent catalog and run history of a pipeline controller.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/pkg/errors"
)

var (
	_ pipeline.Persistence = (*Memory)(nil)
	_ pipeline.Persistence = (*File)(nil)
	_ pipeline.Persistence = (*Postgres)(nil)
)

// ErrNotFound is returned when deleting a run that does not exist.
var ErrNotFound = errors.New("store: not found")

// Memory keeps everything in process. Values are stored as JSON so callers
// never share memory with the store.
type Memory struct {
	mu   sync.RWMutex
	kv   map[string][]byte
	runs map[string]pipeline.RunRecord
}

func NewMemory() *Memory {
	return &Memory{
		kv:   make(map[string][]byte),
		runs: make(map[string]pipeline.RunRecord),
	}
}

func (m *Memory) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	m.mu.Lock()
	m.kv[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(ctx context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	data, ok := m.kv[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (m *Memory) SaveRun(ctx context.Context, run pipeline.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "encode run %s", run.ID)
	}
	var cp pipeline.RunRecord
	if err := json.Unmarshal(data, &cp); err != nil {
		return errors.Wrapf(err, "copy run %s", run.ID)
	}
	m.mu.Lock()
	m.runs[run.ID] = cp
	m.mu.Unlock()
	return nil
}

// LoadAllRuns returns runs newest first.
func (m *Memory) LoadAllRuns(ctx context.Context) ([]pipeline.RunRecord, error) {
	m.mu.RLock()
	out := make([]pipeline.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortRuns(out)
	return out, nil
}

func (m *Memory) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return errors.Wrapf(ErrNotFound, "run %s", id)
	}
	delete(m.runs, id)
	return nil
}

func (m *Memory) Wipe(ctx context.Context) error {
	m.mu.Lock()
	m.kv = make(map[string][]byte)
	m.runs = make(map[string]pipeline.RunRecord)
	m.mu.Unlock()
	return nil
}

func sortRuns(runs []pipeline.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].Timestamp.After(runs[j].Timestamp)
		}
		return runs[i].ID < runs[j].ID
	})
}
