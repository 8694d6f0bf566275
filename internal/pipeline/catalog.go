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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/cloudwego/agentrelay/llm/prompt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store keys of the persisted catalog.
const (
	KeyAgents     = "agents"
	KeyWorkflow   = "workflow"
	KeyGuardrails = "guardrails"
)

const (
	DefaultAgentName   = "Generated Agent"
	DefaultAgentPrompt = "You are a helpful assistant."
	DefaultAgentModel  = "gemini-2.5-flash"
)

// GeneratorModels are tried in order; the first one with a credential generates agents.
var GeneratorModels = []string{"gemini-2.5-flash", "gpt-4o-mini", "claude-3-5-haiku-20241022", "grok-3-mini"}

func (c *Controller) Agents() []Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Agent(nil), c.agents...)
}

// Workflow returns the configured steps, or the live steps of an interactive run.
func (c *Controller) Workflow() []WorkflowStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.Mode == ModeInteractive && c.run.State != StateIdle {
		return append([]WorkflowStep(nil), c.workflow...)
	}
	return append([]WorkflowStep(nil), c.steps...)
}

// UpsertAgent adds a, or replaces the agent with the same id. An empty id is assigned.
func (c *Controller) UpsertAgent(ctx context.Context, a Agent) (Agent, error) {
	if strings.TrimSpace(a.Name) == "" {
		return Agent{}, errors.New("agent name is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.unlock()
	replaced := false
	for i := range c.agents {
		if c.agents[i].ID == a.ID {
			c.agents[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		c.agents = append(c.agents, a)
	}
	return a, c.persistCatalog(ctx)
}

// DeleteAgent removes the agent and every configured step that references it.
// An agent used by the live run cannot be deleted until the run ends.
func (c *Controller) DeleteAgent(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.unlock()
	idx := -1
	for i, a := range c.agents {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownAgent
	}
	if st := c.run.State; st != StateIdle && st != StateComplete {
		for _, s := range c.workflow {
			if s.AgentID == id {
				return errors.Wrapf(ErrInvalidState, "agent %s is used by the running pipeline", id)
			}
		}
	}
	c.agents = append(c.agents[:idx:idx], c.agents[idx+1:]...)
	c.steps = withoutAgent(c.steps, id)
	if st := c.run.State; st == StateIdle || st == StateComplete {
		c.workflow = withoutAgent(c.workflow, id)
	}
	return c.persistCatalog(ctx)
}

func withoutAgent(steps []WorkflowStep, id string) []WorkflowStep {
	out := make([]WorkflowStep, 0, len(steps))
	for _, s := range steps {
		if s.AgentID != id {
			out = append(out, s)
		}
	}
	return out
}

// SetWorkflow replaces the configured steps. It is rejected while a run is in progress.
func (c *Controller) SetWorkflow(ctx context.Context, steps []WorkflowStep) error {
	c.mu.Lock()
	defer c.unlock()
	if st := c.run.State; st != StateIdle && st != StateComplete {
		return ErrInvalidState
	}
	next := make([]WorkflowStep, len(steps))
	for i, s := range steps {
		if _, ok := findAgent(c.agents, s.AgentID); !ok {
			return errors.Wrapf(ErrUnknownAgent, "step %d references %q", i+1, s.AgentID)
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		next[i] = s
	}
	c.steps = next
	c.workflow = append([]WorkflowStep(nil), next...)
	return c.persistCatalog(ctx)
}

// SaveSettings persists the catalog together with the current guardrail settings.
func (c *Controller) SaveSettings(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	return c.persistCatalog(ctx)
}

// persistCatalog must be called with mu held.
func (c *Controller) persistCatalog(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, KeyAgents, c.agents); err != nil {
		return errors.Wrap(err, "save agents")
	}
	if err := c.store.Save(ctx, KeyWorkflow, c.steps); err != nil {
		return errors.Wrap(err, "save workflow")
	}
	if err := c.store.Save(ctx, KeyGuardrails, c.guardrails); err != nil {
		return errors.Wrap(err, "save guardrails")
	}
	return nil
}

// RestoreCatalog loads agents, workflow and guardrail settings from the
// store. Keys that were never saved keep their current values.
func (c *Controller) RestoreCatalog(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	var (
		agents []Agent
		steps  []WorkflowStep
		gs     guardrail.Settings
	)
	hasAgents, err := c.store.Load(ctx, KeyAgents, &agents)
	if err != nil {
		return errors.Wrap(err, "load agents")
	}
	hasSteps, err := c.store.Load(ctx, KeyWorkflow, &steps)
	if err != nil {
		return errors.Wrap(err, "load workflow")
	}
	hasGuardrails, err := c.store.Load(ctx, KeyGuardrails, &gs)
	if err != nil {
		return errors.Wrap(err, "load guardrails")
	}

	c.mu.Lock()
	defer c.unlock()
	if hasAgents {
		c.agents = agents
	}
	if hasSteps {
		c.steps = steps
		if st := c.run.State; st == StateIdle || st == StateComplete {
			c.workflow = append([]WorkflowStep(nil), steps...)
		}
	}
	if hasGuardrails {
		c.guardrails = gs
	}
	log.Info("restored catalog: %d agents, %d steps", len(c.agents), len(c.steps))
	return nil
}

type generatedAgent struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// GenerateAgent asks a model for an agent matching description and adds it.
func (c *Controller) GenerateAgent(ctx context.Context, description string) (Agent, error) {
	if strings.TrimSpace(description) == "" {
		return Agent{}, ErrEmptyMessage
	}
	model := ""
	for _, m := range GeneratorModels {
		if c.gateway.HasCredential(m) {
			model = m
			break
		}
	}
	if model == "" {
		return Agent{}, ErrNoCredentials
	}
	text, err := c.gateway.Generate(ctx, llm.Request{
		Model:        model,
		SystemPrompt: prompt.GeneratorSystem,
		Prompt:       prompt.AgentGenerator(description, DefaultAgentModel),
	})
	if err != nil {
		return Agent{}, err
	}
	gen, err := ParseGeneratedAgent(text)
	if err != nil {
		return Agent{}, err
	}
	return c.UpsertAgent(ctx, gen)
}

// ParseGeneratedAgent decodes a generator reply, tolerating markdown code fences.
func ParseGeneratedAgent(text string) (Agent, error) {
	clean := strings.ReplaceAll(text, "```json", "")
	clean = strings.TrimSpace(strings.ReplaceAll(clean, "```", ""))
	var g generatedAgent
	if err := json.Unmarshal([]byte(clean), &g); err != nil {
		return Agent{}, errors.Wrap(err, "parse generated agent")
	}
	a := Agent{Name: g.Name, Prompt: g.Prompt, Model: g.Model}
	if a.Name == "" {
		a.Name = DefaultAgentName
	}
	if a.Prompt == "" {
		a.Prompt = DefaultAgentPrompt
	}
	if a.Model == "" {
		a.Model = DefaultAgentModel
	}
	return a, nil
}

// Summarize asks the first agent's model for a report over the turns of rec.
func (c *Controller) Summarize(ctx context.Context, rec RunRecord) (string, error) {
	c.mu.Lock()
	if len(c.agents) == 0 {
		c.mu.Unlock()
		return "", ErrUnknownAgent
	}
	model := c.agents[0].Model
	c.mu.Unlock()

	lines := make([]string, 0, len(rec.Memory))
	for _, e := range rec.Memory {
		lines = append(lines, fmt.Sprintf("[%s]: %s", e.Agent, e.AgentResponse))
	}
	if len(lines) == 0 {
		for _, l := range rec.Logs {
			lines = append(lines, fmt.Sprintf("[%s]: %s", l.Agent, l.Output))
		}
	}
	if len(lines) == 0 {
		return "", ErrEmptyMessage
	}
	return c.gateway.Generate(ctx, llm.Request{
		Model:        model,
		SystemPrompt: prompt.SummarizerSystem,
		Prompt:       prompt.Summary(lines),
	})
}
