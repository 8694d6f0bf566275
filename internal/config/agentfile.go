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
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	AgentFileExt         = ".md"
	FrontMatterDelimiter = "---"
)

// agentFrontmatter is the YAML header of an agent file. The markdown body
// below it is the agent's system prompt.
type agentFrontmatter struct {
	ID        string   `yaml:"id,omitempty"`
	Name      string   `yaml:"name"`
	Model     string   `yaml:"model"`
	Knowledge []string `yaml:"knowledge,omitempty"`
}

// ValidateAgentID checks an agent file id:
//   - 1-64 characters
//   - lowercase letters, digits and hyphens only
//   - no leading, trailing or doubled hyphen
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return errors.New("agent id cannot be empty")
	}
	if len(id) > 64 {
		return errors.Errorf("agent id must be 1-64 characters, got %d", len(id))
	}
	for _, r := range id {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) && r != '-' {
			return errors.Errorf("agent id can only contain lowercase letters, numbers, and hyphens, got '%c'", r)
		}
	}
	if strings.HasPrefix(id, "-") || strings.HasSuffix(id, "-") {
		return errors.New("agent id cannot start or end with a hyphen")
	}
	if strings.Contains(id, "--") {
		return errors.New("agent id cannot contain consecutive hyphens")
	}
	return nil
}

// extractFrontmatter splits content into its YAML header and markdown body.
func extractFrontmatter(content string) (frontmatter string, body string, err error) {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	if !strings.HasPrefix(content, FrontMatterDelimiter+"\n") {
		return "", content, errors.New("no frontmatter found (expected '---' at start)")
	}
	rest := content[len(FrontMatterDelimiter)+1:]
	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == FrontMatterDelimiter {
			frontmatter = strings.Join(lines[:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return strings.TrimSpace(frontmatter), strings.TrimSpace(body), nil
		}
	}
	return "", content, errors.New("frontmatter not closed")
}

// ParseAgentFile decodes one agent file. The id defaults to defaultID, and
// relative knowledge paths are resolved against baseDir.
func ParseAgentFile(data []byte, defaultID, baseDir string) (AgentConfig, error) {
	fm, body, err := extractFrontmatter(string(data))
	if err != nil {
		return AgentConfig{}, err
	}
	var meta agentFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return AgentConfig{}, errors.Wrap(err, "parse YAML frontmatter")
	}
	if meta.ID == "" {
		meta.ID = defaultID
	}
	if err := ValidateAgentID(meta.ID); err != nil {
		return AgentConfig{}, err
	}
	if meta.Name == "" || meta.Model == "" {
		return AgentConfig{}, errors.Errorf("agent %s: name and model are required", meta.ID)
	}
	knowledge := make([]string, 0, len(meta.Knowledge))
	for _, p := range meta.Knowledge {
		if !filepath.IsAbs(p) && baseDir != "" {
			p = filepath.Join(baseDir, p)
		}
		knowledge = append(knowledge, p)
	}
	return AgentConfig{
		ID:        meta.ID,
		Name:      meta.Name,
		Model:     meta.Model,
		Prompt:    body,
		Knowledge: knowledge,
	}, nil
}

// LoadAgentDir reads every *.md file directly under dir, sorted by name.
// The file name without extension is the default agent id.
func LoadAgentDir(dir string) ([]AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read agents dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), AgentFileExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]AgentConfig, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read agent file %s", path)
		}
		a, err := ParseAgentFile(data, strings.TrimSuffix(name, filepath.Ext(name)), dir)
		if err != nil {
			return nil, errors.Wrapf(err, "agent file %s", path)
		}
		out = append(out, a)
	}
	return out, nil
}

// FormatAgentFile renders a as an agent file ParseAgentFile accepts.
func FormatAgentFile(a AgentConfig) ([]byte, error) {
	fm, err := yaml.Marshal(agentFrontmatter{ID: a.ID, Name: a.Name, Model: a.Model, Knowledge: a.Knowledge})
	if err != nil {
		return nil, errors.Wrap(err, "encode frontmatter")
	}
	var buf bytes.Buffer
	buf.WriteString(FrontMatterDelimiter + "\n")
	buf.Write(fm)
	buf.WriteString(FrontMatterDelimiter + "\n\n")
	buf.WriteString(strings.TrimSpace(a.Prompt))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// WriteAgentFile saves a as <dir>/<id>.md.
func WriteAgentFile(dir string, a AgentConfig) (string, error) {
	if err := ValidateAgentID(a.ID); err != nil {
		return "", err
	}
	data, err := FormatAgentFile(a)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create agents dir")
	}
	path := filepath.Join(dir, a.ID+AgentFileExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}
