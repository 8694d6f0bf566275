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

package pipeline

import (
	"time"

	"github.com/cloudwego/agentrelay/llm"
	"github.com/google/uuid"
)

// MainBranch is the root of every step's branch tree.
const MainBranch = "main"

// Branch is an alternate continuation of a step's history.
type Branch struct {
	ID     string    `json:"id"`
	Parent string    `json:"parent"`
	Step   int       `json:"step"`
	At     int       `json:"at"` // turn index the branch was forked at
	Turns  int       `json:"turns"`
	Hash   string    `json:"hash"`
	Time   time.Time `json:"time"`

	snap *Snapshot[[]llm.Turn]
}

// BranchManager keeps full copies of step histories keyed by branch id.
// It is not safe for concurrent use.
type BranchManager struct {
	branches map[string]*Branch
	order    []string
	current  string
}

func NewBranchManager() *BranchManager {
	b := &BranchManager{}
	b.Reset()
	return b
}

// Reset drops every branch except an empty main.
func (b *BranchManager) Reset() {
	b.branches = map[string]*Branch{MainBranch: {ID: MainBranch}}
	b.order = []string{MainBranch}
	b.current = MainBranch
}

func (b *BranchManager) Current() string {
	return b.current
}

func (b *BranchManager) Has(id string) bool {
	_, ok := b.branches[id]
	return ok
}

// Fork snapshots history under a new branch id forked from the current branch at turn index at.
func (b *BranchManager) Fork(history []llm.Turn, step, at int) (string, error) {
	if at < 0 || at >= len(history) {
		return "", ErrInvalidIndex
	}
	snap, err := NewSnapshot("step-history", history)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	b.branches[id] = &Branch{
		ID:     id,
		Parent: b.current,
		Step:   step,
		At:     at,
		Turns:  len(history),
		Hash:   snap.Hash,
		Time:   time.Now(),
		snap:   snap,
	}
	b.order = append(b.order, id)
	return id, nil
}

// Save overwrites the stored history of the current branch.
func (b *BranchManager) Save(history []llm.Turn) error {
	snap, err := NewSnapshot("step-history", history)
	if err != nil {
		return err
	}
	br := b.branches[b.current]
	br.snap = snap
	br.Hash = snap.Hash
	br.Turns = len(history)
	return nil
}

// SwitchTo makes id current and returns a fresh copy of its history.
func (b *BranchManager) SwitchTo(id string) ([]llm.Turn, error) {
	br, ok := b.branches[id]
	if !ok {
		return nil, ErrUnknownBranch
	}
	var turns []llm.Turn
	if br.snap != nil {
		var err error
		if turns, err = br.snap.Restore(); err != nil {
			return nil, err
		}
	}
	b.current = id
	return turns, nil
}

// List returns branches in creation order.
func (b *BranchManager) List() []Branch {
	out := make([]Branch, 0, len(b.order))
	for _, id := range b.order {
		br := *b.branches[id]
		br.snap = nil
		out = append(out, br)
	}
	return out
}
