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


package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editorFile = `---
name: Editor
model: gpt-4o-mini
knowledge: [style]
---

# Editor

Tighten the prose. Keep the author's voice.
`

func TestValidateAgentID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"editor", true},
		{"copy-editor-2", true},
		{"", false},
		{"Editor", false},
		{"-editor", false},
		{"editor-", false},
		{"copy--editor", false},
		{"copy_editor", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateAgentID(tt.id)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExtractFrontmatter(t *testing.T) {
	fm, body, err := extractFrontmatter(editorFile)
	require.NoError(t, err)
	assert.Contains(t, fm, "name: Editor")
	assert.Equal(t, "# Editor\n\nTighten the prose. Keep the author's voice.", body)

	_, _, err = extractFrontmatter("# no header")
	assert.Error(t, err)
	_, _, err = extractFrontmatter("---\nname: x\n")
	assert.Error(t, err)
}

func TestParseAgentFile(t *testing.T) {
	a, err := ParseAgentFile([]byte(editorFile), "editor", "/agents")
	require.NoError(t, err)
	assert.Equal(t, "editor", a.ID)
	assert.Equal(t, "Editor", a.Name)
	assert.Equal(t, "gpt-4o-mini", a.Model)
	assert.Equal(t, []string{filepath.Join("/agents", "style")}, a.Knowledge)
	assert.Contains(t, a.Prompt, "Tighten the prose.")

	_, err = ParseAgentFile([]byte("---\nname: X\n---\nbody"), "x", "")
	assert.Error(t, err, "model is required")
	_, err = ParseAgentFile([]byte(editorFile), "Bad Name", "")
	assert.Error(t, err)
}

func TestAgentFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := AgentConfig{ID: "critic", Name: "Critic", Model: "claude-3-5-haiku-20241022", Prompt: "Find the weak spots."}
	path, err := WriteAgentFile(dir, in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "critic.md"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "editor.md"), []byte(editorFile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	agents, err := LoadAgentDir(dir)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, in.ID, agents[0].ID)
	assert.Equal(t, in.Prompt, agents[0].Prompt)
	assert.Equal(t, "editor", agents[1].ID)
}

func TestLoadWithAgentsDir(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, sample+"agents_dir: agents\n")
	dir := filepath.Dir(path)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", "editor.md"), []byte(editorFile), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 3)
	assert.Equal(t, "editor", cfg.Agents[2].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", "writer.md"),
		[]byte("---\nname: Writer\nmodel: gpt-4o\n---\nagain"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, `duplicate agent id "writer"`)
}
