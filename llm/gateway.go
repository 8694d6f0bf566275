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
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/llm/prompt"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
)

var _ Gateway = (*EinoGateway)(nil)

// EinoGateway routes requests to eino chat models, one per provider/model pair.
type EinoGateway struct {
	creds    Credentials
	factory  ModelFactory
	handlers []callbacks.Handler

	mu     sync.Mutex
	models map[string]ChatModel
}

type GatewayOption func(*EinoGateway)

// WithModelFactory replaces NewChatModel.
func WithModelFactory(f ModelFactory) GatewayOption {
	return func(g *EinoGateway) { g.factory = f }
}

// WithCallbacks attaches extra eino callback handlers to every call.
func WithCallbacks(hs ...callbacks.Handler) GatewayOption {
	return func(g *EinoGateway) { g.handlers = append(g.handlers, hs...) }
}

func NewEinoGateway(creds Credentials, opts ...GatewayOption) *EinoGateway {
	g := &EinoGateway{
		creds:    creds,
		factory:  NewChatModel,
		handlers: []callbacks.Handler{CallbackHandler{}},
		models:   make(map[string]ChatModel),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *EinoGateway) HasCredential(modelID string) bool {
	return g.creds.HasModel(modelID)
}

func (g *EinoGateway) resolve(ctx context.Context, modelID string) (ChatModel, ModelType, error) {
	p, name := DetectProvider(modelID)
	if !g.creds.Has(p) {
		return nil, p, &CallError{Kind: KindCredentialMissing, Provider: p, Err: errors.Errorf("no API key configured for %s", p)}
	}
	key := string(p) + "/" + name
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.models[key]; ok {
		return m, p, nil
	}
	m, err := g.factory(ctx, g.creds.ModelConfig(p, name))
	if err != nil {
		return nil, p, Classify(p, err)
	}
	g.models[key] = m
	return m, p, nil
}

func (g *EinoGateway) withCallbacks(ctx context.Context, p ModelType, modelID string) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      modelID,
		Type:      string(p),
		Component: components.ComponentOfChatModel,
	}, g.handlers...)
}

func (g *EinoGateway) Generate(ctx context.Context, req Request) (string, error) {
	m, p, err := g.resolve(ctx, req.Model)
	if err != nil {
		return "", err
	}
	log.Debug("[%s] generate, history: %d, context files: %d", req.Model, len(req.History), len(req.Context))
	out, err := m.Generate(g.withCallbacks(ctx, p, req.Model), Messages(req))
	if err != nil {
		return "", Classify(p, err)
	}
	return out.Content, nil
}

func (g *EinoGateway) Stream(ctx context.Context, req Request, onDelta StreamFunc) (string, error) {
	m, p, err := g.resolve(ctx, req.Model)
	if err != nil {
		return "", err
	}
	log.Debug("[%s] stream, history: %d, context files: %d", req.Model, len(req.History), len(req.Context))
	sr, err := m.Stream(g.withCallbacks(ctx, p, req.Model), Messages(req))
	if err != nil {
		return "", Classify(p, err)
	}
	defer sr.Close()
	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", Classify(p, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if onDelta != nil {
			onDelta(chunk.Content, sb.String())
		}
	}
	return sb.String(), nil
}

// Messages lays out a request as chat messages: the system prompt carries the
// memory block, the final user message carries knowledge and attachments.
func Messages(req Request) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.History)+2)
	if sys := prompt.WithMemory(req.SystemPrompt, req.Memory); sys != "" {
		msgs = append(msgs, schema.SystemMessage(sys))
	}
	for _, t := range req.History {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case RoleAgent:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	user := prompt.Knowledge(req.Context) + prompt.Attachments(req.Attachments) + req.Prompt
	msgs = append(msgs, schema.UserMessage(user))
	return msgs
}
