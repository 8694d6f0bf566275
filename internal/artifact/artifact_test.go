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
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadText(t *testing.T) {
	a, err := Reader{}.Read("notes.md", strings.NewReader("# hi"))
	require.NoError(t, err)
	assert.Equal(t, Artifact{Name: "notes.md", MimeType: "text/markdown", Content: "# hi"}, a)
	assert.False(t, a.IsBinary())
}

func TestReadBinary(t *testing.T) {
	raw := []byte("%PDF-1.4 fake")
	a, err := Reader{}.Read("doc.pdf", bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", a.MimeType)
	assert.True(t, a.IsBinary())
	dec, err := base64.StdEncoding.DecodeString(a.Content)
	require.NoError(t, err)
	assert.Equal(t, raw, dec)
}

func TestReadTooLarge(t *testing.T) {
	_, err := Reader{MaxSize: 4}.Read("big.txt", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Reader{MaxSize: 5}.Read("ok.txt", strings.NewReader("12345"))
	assert.NoError(t, err)
}

func TestReadPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("H"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	single := filepath.Join(t.TempDir(), "single.md")
	require.NoError(t, os.WriteFile(single, []byte("S"), 0o644))

	arts, err := Reader{}.ReadPaths(dir, single)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.Equal(t, "a.txt", arts[0].Name)
	assert.Equal(t, "b.txt", arts[1].Name)
	assert.Equal(t, "single.md", arts[2].Name)

	_, err = Reader{}.ReadPaths(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	knowledge := []Artifact{{Name: "spec.md", Content: "agent"}}
	step := []Artifact{{Name: "data.csv", Content: "1,2"}}
	pipeline := []Artifact{{Name: "spec.md", Content: "pipeline"}, {Name: "out.md", Content: "o"}}
	got := Merge(knowledge, step, pipeline)
	require.Len(t, got, 3)
	assert.Equal(t, "agent", got[0].Content)
	assert.Equal(t, "out.md", got[2].Name)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	var (
		mu  sync.Mutex
		got []Artifact
	)
	w, err := NewWatcher(Reader{}, func(_ string, arts []Artifact) {
		mu.Lock()
		got = arts
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "facts.txt"), []byte("sky is blue"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Content == "sky is blue"
	}, 5*time.Second, 20*time.Millisecond)
}
