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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	mu     sync.Mutex
	reply  string
	chunks []string
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func factoryFor(m *fakeChatModel, calls *int) ModelFactory {
	return func(ctx context.Context, cfg ModelConfig) (ChatModel, error) {
		if calls != nil {
			*calls++
		}
		return m, nil
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		in   string
		want ModelType
		name string
	}{
		{"gemini-2.5-flash", ModelTypeGemini, "gemini-2.5-flash"},
		{"gpt-4o", ModelTypeOpenAI, "gpt-4o"},
		{"o3-mini", ModelTypeOpenAI, "o3-mini"},
		{"claude-3-5-sonnet-20241022", ModelTypeClaude, "claude-3-5-sonnet-20241022"},
		{"grok-3", ModelTypeXAI, "grok-3"},
		{"deepseek-chat", ModelTypeDeepSeek, "deepseek-chat"},
		{"qwen-max", ModelTypeDashScope, "qwen-max"},
		{"doubao-pro", ModelTypeARK, "doubao-pro"},
		{"ollama/llama3", ModelTypeOllama, "llama3"},
		{"anthropic/claude-opus-4-20250514", ModelTypeClaude, "claude-opus-4-20250514"},
		{"mystery", ModelTypeGemini, "mystery"},
		{"org/custom", ModelTypeGemini, "org/custom"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, name := DetectProvider(tt.in)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestCredentials(t *testing.T) {
	c := Credentials{
		ModelTypeOpenAI: {APIKey: "sk"},
		ModelTypeClaude: {},
		ModelTypeOllama: {},
	}
	assert.True(t, c.HasModel("gpt-4o"))
	assert.False(t, c.HasModel("claude-3-5-haiku-20241022"))
	assert.True(t, c.HasModel("ollama/llama3"))
	assert.False(t, c.HasModel("gemini-2.5-pro"))
	assert.True(t, c.Any())
	assert.False(t, Credentials{}.Any())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("error, status code: 401, message: Unauthorized"), KindCredentialInvalid},
		{errors.New("invalid_api_key"), KindCredentialInvalid},
		{errors.New("status code: 429, rate_limit_exceeded"), KindRateLimit},
		{errors.New("You exceeded your current quota"), KindRateLimit},
		{errors.New("This model's maximum context length is 8192 tokens: context_length_exceeded"), KindContextTooLarge},
		{errors.New("status code: 503, Service Unavailable"), KindUpstream},
		{errors.New("read tcp 10.0.0.1:443: connection reset by peer"), KindNetwork},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindNetwork},
		{errors.New("503 Service Unavailable"), KindUpstream},
		{errors.New("HTTP 502 from upstream"), KindUpstream},
		{errors.New("request req_4291 rejected after 500 tokens"), KindUnknown},
		{errors.New("trace 401-abc: model returned nothing"), KindUnknown},
		{errors.New("unexpected EOF"), KindNetwork},
		{errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := Classify(ModelTypeOpenAI, tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
			var ce *CallError
			require.ErrorAs(t, err, &ce)
			assert.NotEmpty(t, ce.Suggestion())
		})
	}
	assert.NoError(t, Classify(ModelTypeOpenAI, nil))

	ce := &CallError{Kind: KindRateLimit, Provider: ModelTypeClaude, Err: errors.New("x")}
	assert.Same(t, ce, Classify(ModelTypeOpenAI, ce))
	assert.True(t, ce.Retryable())
	assert.False(t, (&CallError{Kind: KindContextTooLarge}).Retryable())
}

func TestMessages(t *testing.T) {
	msgs := Messages(Request{
		SystemPrompt: "You plan.",
		Prompt:       "next?",
		Memory:       "--- entry ---",
		Context:      []artifact.Artifact{{Name: "k.md", MimeType: "text/markdown", Content: "facts"}},
		History: []Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAgent, Content: "hello"},
		},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "=== GLOBAL CONVERSATION LOG ===\n--- entry ---")
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, "=== KNOWLEDGE BASE ===\n[File: k.md]\nfacts\n=== END KNOWLEDGE ===\n\nnext?", msgs[3].Content)
}

func TestGatewayGenerate(t *testing.T) {
	fake := &fakeChatModel{reply: "Plan A"}
	calls := 0
	g := NewEinoGateway(Credentials{ModelTypeOpenAI: {APIKey: "sk"}}, WithModelFactory(factoryFor(fake, &calls)))

	out, err := g.Generate(context.Background(), Request{Model: "gpt-4o", SystemPrompt: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "Plan A", out)
	_, err = g.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "model is cached per provider/model")
	assert.Len(t, fake.inputs, 2)
}

func TestGatewayMissingCredential(t *testing.T) {
	calls := 0
	g := NewEinoGateway(Credentials{}, WithModelFactory(factoryFor(&fakeChatModel{}, &calls)))
	_, err := g.Generate(context.Background(), Request{Model: "claude-3-5-haiku-20241022"})
	assert.Equal(t, KindCredentialMissing, KindOf(err))
	assert.Equal(t, 0, calls)
	assert.False(t, g.HasCredential("claude-3-5-haiku-20241022"))
}

func TestGatewayClassifiesFailure(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("status code: 429")}
	g := NewEinoGateway(Credentials{ModelTypeGemini: {APIKey: "k"}}, WithModelFactory(factoryFor(fake, nil)))
	_, err := g.Generate(context.Background(), Request{Model: "gemini-2.5-flash"})
	assert.Equal(t, KindRateLimit, KindOf(err))
}

func TestGatewayStream(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hel", "", "lo"}}
	g := NewEinoGateway(Credentials{ModelTypeXAI: {APIKey: "k"}}, WithModelFactory(factoryFor(fake, nil)))
	var deltas, cumul []string
	out, err := g.Stream(context.Background(), Request{Model: "grok-3"}, func(d, c string) {
		deltas = append(deltas, d)
		cumul = append(cumul, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, []string{"Hel", "Hello"}, cumul)
}
