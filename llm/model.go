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
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/pkg/errors"
)

const (
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultXAIBaseURL       = "https://api.x.ai/v1"
	defaultDeepSeekBaseURL  = "https://api.deepseek.com"
	defaultDashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultOllamaBaseURL    = "http://localhost:11434"
)

// ModelFactory builds a chat model from a resolved config.
type ModelFactory func(ctx context.Context, m ModelConfig) (ChatModel, error)

// NewChatModel is the default ModelFactory.
func NewChatModel(ctx context.Context, m ModelConfig) (ChatModel, error) {
	if m.MaxTokens == 0 {
		m.MaxTokens = 8 * 1024
	}
	if m.Timeout == 0 {
		m.Timeout = 600 * time.Second
	}
	var (
		model ChatModel
		err   error
	)
	switch m.APIType {
	case ModelTypeARK:
		model, err = ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     m.BaseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
		})
	case ModelTypeOpenAI, ModelTypeGemini, ModelTypeXAI, ModelTypeDeepSeek:
		// gemini, xai and deepseek expose OpenAI-compatible endpoints
		model, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     openAIBaseURL(m),
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeDashScope:
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = defaultDashScopeBaseURL
		}
		model, err = qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeOllama:
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		model, err = ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   m.ModelName,
		})
	case ModelTypeClaude:
		cfg := &claude.Config{
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		}
		if m.BaseURL != "" {
			cfg.BaseURL = &m.BaseURL
		}
		model, err = claude.NewChatModel(ctx, cfg)
	default:
		return nil, errors.Errorf("unsupported model type %q", m.APIType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create %s chat model", m.APIType)
	}
	return model, nil
}

func openAIBaseURL(m ModelConfig) string {
	if m.BaseURL != "" {
		return m.BaseURL
	}
	switch m.APIType {
	case ModelTypeGemini:
		return defaultGeminiBaseURL
	case ModelTypeXAI:
		return defaultXAIBaseURL
	case ModelTypeDeepSeek:
		return defaultDeepSeekBaseURL
	}
	return ""
}
