/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prompt

import (
	"bytes"
	"os"
	"text/template"

	"github.com/pkg/errors"
)

type Prompt interface {
	String() string
}

// FilePrompt is a system prompt loaded from disk, optionally rendered as a Go template.
type FilePrompt struct {
	Type PromptType `json:"type" yaml:"type" mapstructure:"type"`
	Path string     `json:"path" yaml:"path" mapstructure:"path"`
	Data any        `json:"data" yaml:"data" mapstructure:"data"`
	text string
}

type PromptType string

const (
	PromptTypePlainText  PromptType = "text"
	PromptTypeDummy      PromptType = "dummy"
	PromptTypeGoTemplate PromptType = "go-template"
)

func (p *FilePrompt) String() string {
	return p.text
}

// NewFilePrompt reads and, for go-template prompts, renders c.Path once.
func NewFilePrompt(c *FilePrompt) (Prompt, error) {
	switch c.Type {
	case PromptTypePlainText, "":
		bs, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, errors.Wrap(err, "read prompt file")
		}
		c.text = string(bs)
		return c, nil
	case PromptTypeDummy:
		return TextPrompt(""), nil
	case PromptTypeGoTemplate:
		tpl, err := template.ParseFiles(c.Path)
		if err != nil {
			return nil, errors.Wrap(err, "parse prompt template")
		}
		var buf bytes.Buffer
		if err := tpl.Execute(&buf, c.Data); err != nil {
			return nil, errors.Wrap(err, "render prompt template")
		}
		c.text = buf.String()
		return c, nil
	default:
		return nil, errors.Errorf("unsupported prompt type %q", c.Type)
	}
}

type TextPrompt string

func (p TextPrompt) String() string {
	return string(p)
}

func NewTextPrompt(content string) Prompt {
	return TextPrompt(content)
}
