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
	"testing"

	"github.com/cloudwego/agentrelay/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func turnsGen() *rapid.Generator[[]llm.Turn] {
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) llm.Turn {
		return llm.Turn{
			Role:    rapid.SampledFrom([]llm.Role{llm.RoleUser, llm.RoleAgent}).Draw(t, "role"),
			Content: rapid.StringMatching(`[a-zA-Z0-9 .,!?]{0,40}`).Draw(t, "content"),
		}
	}), 1, 12)
}

func TestSnapshotIsolation(t *testing.T) {
	turns := []llm.Turn{{Role: llm.RoleUser, Content: "a"}, {Role: llm.RoleAgent, Content: "b"}}
	snap, err := NewSnapshot("history", turns)
	require.NoError(t, err)
	turns[0].Content = "changed"

	got, err := snap.Restore()
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].Content)
	got[1].Content = "mutated"

	again, err := snap.Restore()
	require.NoError(t, err)
	assert.Equal(t, "b", again[1].Content)
	assert.Len(t, snap.Hash, 64)
}

func TestBranchRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		history := turnsGen().Draw(t, "history")
		at := rapid.IntRange(0, len(history)-1).Draw(t, "at")

		b := NewBranchManager()
		id, err := b.Fork(history, 0, at)
		if err != nil {
			t.Fatalf("fork: %v", err)
		}
		live := append([]llm.Turn(nil), history[:at+1]...)
		if err := b.Save(live); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := b.SwitchTo(id)
		if err != nil {
			t.Fatalf("switch: %v", err)
		}
		if len(got) != len(history) {
			t.Fatalf("restored %d turns, want %d", len(got), len(history))
		}
		for i := range history {
			if got[i] != history[i] {
				t.Fatalf("turn %d: got %+v, want %+v", i, got[i], history[i])
			}
		}
		back, err := b.SwitchTo(MainBranch)
		if err != nil {
			t.Fatalf("switch main: %v", err)
		}
		if len(back) != len(live) {
			t.Fatalf("main has %d turns, want %d", len(back), len(live))
		}
	})
}

func TestBranchManager(t *testing.T) {
	b := NewBranchManager()
	assert.Equal(t, MainBranch, b.Current())
	assert.True(t, b.Has(MainBranch))

	_, err := b.Fork(nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = b.SwitchTo("nope")
	assert.ErrorIs(t, err, ErrUnknownBranch)

	history := []llm.Turn{{Role: llm.RoleUser, Content: "q"}, {Role: llm.RoleAgent, Content: "a"}}
	id, err := b.Fork(history, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, MainBranch, b.Current())

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, id, list[1].ID)
	assert.Equal(t, 3, list[1].Step)
	assert.Equal(t, 2, list[1].Turns)

	turns, err := b.SwitchTo(MainBranch)
	require.NoError(t, err)
	assert.Empty(t, turns)

	b.Reset()
	assert.False(t, b.Has(id))
	assert.Len(t, b.List(), 1)
}
