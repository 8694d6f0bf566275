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

// Package artifact reads files into named context documents that agents
// receive as knowledge, step files or pipeline outputs.
package artifact

import (
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// MaxSize is the default read cap.
const MaxSize = 10 << 20

var ErrTooLarge = errors.New("artifact too large")

// Artifact is a named document. Content is UTF-8 text, or base64 when IsBinary.
type Artifact struct {
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mime_type" yaml:"mime_type"`
	Content  string `json:"content" yaml:"content"`
}

// IsBinary reports whether Content is base64 encoded.
func (a Artifact) IsBinary() bool {
	return IsBinaryType(a.MimeType)
}

func IsBinaryType(mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}

// Merge concatenates groups keeping the first artifact seen for each name.
func Merge(groups ...[]Artifact) []Artifact {
	seen := make(map[string]struct{})
	var out []Artifact
	for _, g := range groups {
		for _, a := range g {
			if _, ok := seen[a.Name]; ok {
				continue
			}
			seen[a.Name] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

var textTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".json":     "application/json",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".js":       "text/javascript",
	".html":     "text/html",
}

// DetectType guesses a mime type from the file name, falling back to content sniffing.
func DetectType(name string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := textTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return stripParams(t)
	}
	return stripParams(http.DetectContentType(head))
}

func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}

// Reader loads artifacts from files.
type Reader struct {
	// MaxSize caps the byte size of one artifact; 0 means MaxSize.
	MaxSize int64
}

func (r Reader) limit() int64 {
	if r.MaxSize > 0 {
		return r.MaxSize
	}
	return MaxSize
}

// Read consumes rd as an artifact called name.
func (r Reader) Read(name string, rd io.Reader) (Artifact, error) {
	max := r.limit()
	data, err := io.ReadAll(io.LimitReader(rd, max+1))
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "read %s", name)
	}
	if int64(len(data)) > max {
		return Artifact{}, errors.Wrapf(ErrTooLarge, "%s exceeds %d bytes", name, max)
	}
	a := Artifact{Name: name, MimeType: DetectType(name, data)}
	if a.IsBinary() {
		a.Content = base64.StdEncoding.EncodeToString(data)
	} else {
		a.Content = string(data)
	}
	return a, nil
}

// ReadFile loads one file; the artifact is named by its base name.
func (r Reader) ReadFile(path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "open artifact")
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil && fi.Size() > r.limit() {
		return Artifact{}, errors.Wrapf(ErrTooLarge, "%s exceeds %d bytes", filepath.Base(path), r.limit())
	}
	return r.Read(filepath.Base(path), f)
}

// ReadPaths loads files and directories in order. Directories contribute
// their regular, non-hidden files sorted by name.
func (r Reader) ReadPaths(paths ...string) ([]Artifact, error) {
	var out []Artifact
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrap(err, "stat artifact")
		}
		if !fi.IsDir() {
			a, err := r.ReadFile(p)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
			continue
		}
		arts, err := r.ReadDir(p)
		if err != nil {
			return nil, err
		}
		out = append(out, arts...)
	}
	return out, nil
}

// ReadDir loads the regular, non-hidden files directly under dir.
func (r Reader) ReadDir(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read artifact dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]Artifact, 0, len(names))
	for _, n := range names {
		a, err := r.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
