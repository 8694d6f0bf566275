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

package llm

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/eino/components/model"
)

type ModelConfig struct {
	APIType     ModelType     `json:"type"`
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"api_key"`
	ModelName   string        `json:"model_name"` // the endpoint of the model, like `claude-opus-4-20250514`
	Temperature *float32      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"` // HTTP request timeout, default: 600s
}

type ModelType string

func NewModelType(t string) ModelType {
	switch strings.ToLower(t) {
	case "ollama":
		return ModelTypeOllama
	case "ark", "doubao":
		return ModelTypeARK
	case "openai", "gpt":
		return ModelTypeOpenAI
	case "claude", "anthropic":
		return ModelTypeClaude
	case "dashscope", "qwen", "tongyi":
		return ModelTypeDashScope
	case "deepseek":
		return ModelTypeDeepSeek
	case "gemini", "google":
		return ModelTypeGemini
	case "xai", "grok":
		return ModelTypeXAI
	}
	return ModelTypeUnknown
}

const (
	ModelTypeUnknown   ModelType = ""
	ModelTypeOllama    ModelType = "ollama"
	ModelTypeARK       ModelType = "ark"
	ModelTypeOpenAI    ModelType = "openai"
	ModelTypeClaude    ModelType = "claude"
	ModelTypeDashScope ModelType = "dashscope"
	ModelTypeDeepSeek  ModelType = "deepseek"
	ModelTypeGemini    ModelType = "gemini"
	ModelTypeXAI       ModelType = "xai"
)

// ModelTypes lists every supported provider.
var ModelTypes = []ModelType{
	ModelTypeGemini, ModelTypeOpenAI, ModelTypeClaude, ModelTypeXAI,
	ModelTypeDeepSeek, ModelTypeDashScope, ModelTypeARK, ModelTypeOllama,
}

// DetectProvider maps a model id to its provider and the provider-side model name.
// An explicit "provider/model" form wins; otherwise the id prefix decides and
// unknown ids fall back to gemini.
func DetectProvider(modelID string) (ModelType, string) {
	if i := strings.IndexByte(modelID, '/'); i > 0 {
		if p := NewModelType(modelID[:i]); p != ModelTypeUnknown {
			return p, modelID[i+1:]
		}
	}
	switch {
	case strings.HasPrefix(modelID, "gemini-"):
		return ModelTypeGemini, modelID
	case strings.HasPrefix(modelID, "gpt-"), strings.HasPrefix(modelID, "o1"),
		strings.HasPrefix(modelID, "o3"), strings.HasPrefix(modelID, "o4"):
		return ModelTypeOpenAI, modelID
	case strings.HasPrefix(modelID, "claude-"):
		return ModelTypeClaude, modelID
	case strings.HasPrefix(modelID, "grok-"):
		return ModelTypeXAI, modelID
	case strings.HasPrefix(modelID, "deepseek-"):
		return ModelTypeDeepSeek, modelID
	case strings.HasPrefix(modelID, "qwen-"):
		return ModelTypeDashScope, modelID
	case strings.HasPrefix(modelID, "doubao-"):
		return ModelTypeARK, modelID
	}
	return ModelTypeGemini, modelID
}

// ProviderConfig is the per-provider credential and tuning block.
type ProviderConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float32      `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// Credentials holds the configured providers.
type Credentials map[ModelType]ProviderConfig

// Has reports whether calls to provider p can be attempted. Ollama needs no key.
func (c Credentials) Has(p ModelType) bool {
	if p == ModelTypeOllama {
		_, ok := c[p]
		return ok
	}
	return c[p].APIKey != ""
}

// Any reports whether at least one provider is usable.
func (c Credentials) Any() bool {
	for p := range c {
		if c.Has(p) {
			return true
		}
	}
	return false
}

// HasModel reports whether the provider behind modelID is usable.
func (c Credentials) HasModel(modelID string) bool {
	p, _ := DetectProvider(modelID)
	return c.Has(p)
}

// ModelConfig builds the factory input for one model of provider p.
func (c Credentials) ModelConfig(p ModelType, modelName string) ModelConfig {
	pc := c[p]
	return ModelConfig{
		APIType:     p,
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		ModelName:   modelName,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Timeout:     pc.Timeout,
	}
}

// ChatModel is the interface for making LLM backend.
type ChatModel interface {
	model.BaseChatModel
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message of a step conversation.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	// Model records which model produced an agent turn committed from a comparison.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Raw and Attachments are what the user sent on a user turn whose Content
	// is the framed or annotated text. They are used to replay the turn.
	Raw         string              `json:"raw,omitempty" yaml:"raw,omitempty"`
	Attachments []artifact.Artifact `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Message returns the text the user sent on t.
func (t Turn) Message() string {
	if t.Raw != "" {
		return t.Raw
	}
	return t.Content
}

// Request is everything a gateway needs for one completion.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Context      []artifact.Artifact
	Attachments  []artifact.Artifact
	History      []Turn
	Memory       string
}

// StreamFunc receives each delta and the text accumulated so far.
type StreamFunc func(delta, cumulative string)

// Gateway performs model calls. Failures are returned as *CallError.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta StreamFunc) (string, error)
	HasCredential(modelID string) bool
}
