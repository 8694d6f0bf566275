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
	"strings"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/cloudwego/agentrelay/llm/prompt"
)

// turnPlan is a turn prepared under the lock and executed outside it.
type turnPlan struct {
	in  TurnInput
	gen uint64
	// base is the history the new user/agent pair is appended to on success.
	base        []llm.Turn
	userTurn    string
	message     string
	attachments []artifact.Artifact
	// fork, when set, is kept as a new branch forked at forkAt once the
	// turn succeeds.
	fork   []llm.Turn
	forkAt int
}

func (p turnPlan) turn() llm.Turn {
	return llm.Turn{Role: llm.RoleUser, Content: p.userTurn, Raw: p.message, Attachments: p.attachments}
}

type comparisonBatch struct {
	plan    turnPlan
	results []ComparisonResult
}

func cloneTurns(ts []llm.Turn) []llm.Turn {
	return append([]llm.Turn(nil), ts...)
}

func lastAgentOutput(ts []llm.Turn) string {
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Role == llm.RoleAgent {
			return ts[i].Content
		}
	}
	return ""
}

func (c *Controller) checkTurn() error {
	if c.run.State != StateInteracting || c.run.ActiveStep == NoActiveStep {
		return ErrInvalidState
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

// planTurn must be called with mu held. frame wraps message as the opening
// prompt of the step.
func (c *Controller) planTurn(message string, attachments []artifact.Artifact, override, frame bool, base []llm.Turn, onDelta llm.StreamFunc) (turnPlan, error) {
	idx := c.run.ActiveStep
	step := c.workflow[idx]
	agent, ok := findAgent(c.agents, step.AgentID)
	if !ok {
		return turnPlan{}, ErrUnknownAgent
	}
	sent := message
	userTurn := prompt.HistoryText(message, len(attachments))
	if frame {
		sent = prompt.Step(prompt.StepInput{First: idx == 0, Seed: message, Task: step.Task})
		userTurn = sent
	}
	in := TurnInput{
		Agent:         agent,
		Step:          idx + 1,
		Message:       sent,
		Raw:           message,
		History:       cloneTurns(base),
		Attachments:   attachments,
		StepFiles:     step.Files,
		PipelineFiles: append([]artifact.Artifact(nil), c.run.PipelineFiles...),
		Guardrails:    c.guardrails,
		Override:      override,
	}
	if c.memoryOn {
		in.Memory = c.run.Memory
	}
	gen := c.gen.Load()
	if onDelta != nil {
		in.OnDelta = func(delta, cumulative string) {
			if c.gen.Load() == gen {
				onDelta(delta, cumulative)
			}
		}
	}
	return turnPlan{
		in:          in,
		gen:         gen,
		base:        cloneTurns(base),
		userTurn:    userTurn,
		message:     message,
		attachments: attachments,
	}, nil
}

// execute runs plan without holding mu, then applies the result if the run
// is still the one the plan was made for.
func (c *Controller) execute(ctx context.Context, plan turnPlan) (*TurnOutcome, error) {
	out, err := c.exec.ExecuteTurn(ctx, plan.in)

	c.mu.Lock()
	defer c.unlock()
	if c.gen.Load() != plan.gen {
		log.Debug("dropping late result for step %d", plan.in.Step)
		return nil, ErrStaleResult
	}
	c.busy = false
	run := c.run
	if err != nil {
		run.Input = plan.message
		run.InputAttachments = plan.attachments
		return nil, err
	}
	if out.Blocked != nil {
		run.Input = plan.message
		run.InputAttachments = plan.attachments
		c.notify(EventBlocked)
		return out, nil
	}
	if plan.fork != nil {
		if _, err := c.branches.Fork(plan.fork, plan.in.Step-1, plan.forkAt); err != nil {
			return nil, err
		}
		c.notify(EventBranch)
	}
	run.History = append(plan.base,
		plan.turn(),
		llm.Turn{Role: llm.RoleAgent, Content: out.Output},
	)
	run.Output = out.Output
	run.Input = ""
	run.InputAttachments = nil
	c.batch = nil
	c.notify(EventTurn)
	return out, nil
}

// SendTurn sends message to the active step's agent. An empty message on a
// fresh step sends the seeded input. A blocked outcome is returned as a value.
func (c *Controller) SendTurn(ctx context.Context, message string, attachments []artifact.Artifact, override bool, onDelta llm.StreamFunc) (*TurnOutcome, error) {
	c.mu.Lock()
	if err := c.checkTurn(); err != nil {
		c.unlock()
		return nil, err
	}
	frame := len(c.run.History) == 0
	if frame && strings.TrimSpace(message) == "" {
		message = c.run.Input
		if len(attachments) == 0 {
			attachments = c.run.InputAttachments
		}
	}
	if strings.TrimSpace(message) == "" && len(attachments) == 0 {
		c.unlock()
		return nil, ErrEmptyMessage
	}
	plan, err := c.planTurn(message, attachments, override, frame, c.run.History, onDelta)
	if err != nil {
		c.unlock()
		return nil, err
	}
	c.busy = true
	c.unlock()
	return c.execute(ctx, plan)
}

// EditTurn replaces the user turn at index with newText and regenerates from
// there, keeping the turn's attachments. Once the new turn succeeds the
// pre-edit history stays reachable as a new branch.
func (c *Controller) EditTurn(ctx context.Context, index int, newText string, onDelta llm.StreamFunc) (*TurnOutcome, error) {
	c.mu.Lock()
	if err := c.checkTurn(); err != nil {
		c.unlock()
		return nil, err
	}
	hist := c.run.History
	if index < 0 || index >= len(hist) || hist[index].Role != llm.RoleUser {
		c.unlock()
		return nil, ErrInvalidIndex
	}
	if strings.TrimSpace(newText) == "" {
		c.unlock()
		return nil, ErrEmptyMessage
	}
	plan, err := c.planTurn(newText, hist[index].Attachments, false, index == 0, hist[:index], onDelta)
	if err != nil {
		c.unlock()
		return nil, err
	}
	plan.fork = cloneTurns(hist)
	plan.forkAt = index
	c.busy = true
	c.unlock()
	return c.execute(ctx, plan)
}

// RegenerateTurn replaces the last agent turn, which must be at index, by
// resending the message and attachments of the user turn before it. No
// branch is kept.
func (c *Controller) RegenerateTurn(ctx context.Context, index int, onDelta llm.StreamFunc) (*TurnOutcome, error) {
	c.mu.Lock()
	if err := c.checkTurn(); err != nil {
		c.unlock()
		return nil, err
	}
	hist := c.run.History
	if index < 1 || index != len(hist)-1 || hist[index].Role != llm.RoleAgent || hist[index-1].Role != llm.RoleUser {
		c.unlock()
		return nil, ErrInvalidIndex
	}
	user := hist[index-1]
	plan, err := c.planTurn(user.Message(), user.Attachments, false, index == 1, hist[:index-1], onDelta)
	if err != nil {
		c.unlock()
		return nil, err
	}
	c.busy = true
	c.unlock()
	return c.execute(ctx, plan)
}

// ForkAt keeps the full history as a new branch and truncates the live
// history to the turns up to and including index.
func (c *Controller) ForkAt(index int) (string, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.checkTurn(); err != nil {
		return "", err
	}
	id, err := c.branches.Fork(c.run.History, c.run.ActiveStep, index)
	if err != nil {
		return "", err
	}
	c.run.History = cloneTurns(c.run.History[:index+1])
	c.run.Output = lastAgentOutput(c.run.History)
	c.batch = nil
	c.notify(EventBranch)
	return id, nil
}

// SwitchBranch stores the live history on the current branch and replaces it
// with the history of id.
func (c *Controller) SwitchBranch(id string) error {
	c.mu.Lock()
	defer c.unlock()
	if err := c.checkTurn(); err != nil {
		return err
	}
	if !c.branches.Has(id) {
		return ErrUnknownBranch
	}
	if err := c.branches.Save(c.run.History); err != nil {
		return err
	}
	turns, err := c.branches.SwitchTo(id)
	if err != nil {
		return err
	}
	c.run.History = turns
	c.run.Output = lastAgentOutput(turns)
	c.batch = nil
	c.notify(EventBranch)
	return nil
}

// Branches lists the branches of the active step and the current branch id.
func (c *Controller) Branches() ([]Branch, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.branches.List(), c.branches.Current()
}

// CompareModels sends message to every model at once without touching the
// live history. The batch is kept until SelectComparisonResult or DismissComparison.
func (c *Controller) CompareModels(ctx context.Context, models []string, message string, onProgress ProgressFunc) ([]ComparisonResult, error) {
	c.mu.Lock()
	if err := c.checkTurn(); err != nil {
		c.unlock()
		return nil, err
	}
	if len(models) < 2 {
		c.unlock()
		return nil, ErrTooFewModels
	}
	frame := len(c.run.History) == 0
	if frame && strings.TrimSpace(message) == "" {
		message = c.run.Input
	}
	if strings.TrimSpace(message) == "" {
		c.unlock()
		return nil, ErrEmptyMessage
	}
	plan, err := c.planTurn(message, nil, true, frame, c.run.History, nil)
	if err != nil {
		c.unlock()
		return nil, err
	}
	c.busy = true
	c.unlock()

	results, err := c.runner.Compare(ctx, models, plan.in, onProgress)

	c.mu.Lock()
	defer c.unlock()
	if c.gen.Load() != plan.gen {
		log.Debug("dropping late comparison for step %d", plan.in.Step)
		return nil, ErrStaleResult
	}
	c.busy = false
	if err != nil {
		return nil, err
	}
	c.batch = &comparisonBatch{plan: plan, results: results}
	return results, nil
}

// SelectComparisonResult commits the successful result of model as the
// latest turn and discards the rest of the batch.
func (c *Controller) SelectComparisonResult(model string) error {
	c.mu.Lock()
	defer c.unlock()
	if err := c.checkTurn(); err != nil {
		return err
	}
	if c.batch == nil {
		return ErrNoComparison
	}
	var chosen *ComparisonResult
	for i := range c.batch.results {
		if r := &c.batch.results[i]; r.Model == model && r.Status == ComparisonSuccess {
			chosen = r
			break
		}
	}
	if chosen == nil {
		return ErrNoComparison
	}
	plan := c.batch.plan
	c.run.History = append(plan.base,
		plan.turn(),
		llm.Turn{Role: llm.RoleAgent, Content: chosen.Output, Model: chosen.Model},
	)
	c.run.Output = chosen.Output
	c.run.Input = ""
	if c.memoryOn {
		c.run.Memory.AppendFrom(chosen.Model, plan.in.Agent.Name, plan.in.Step, plan.message, chosen.Output)
	}
	c.batch = nil
	c.notify(EventTurn)
	return nil
}

// DismissComparison drops a pending comparison batch.
func (c *Controller) DismissComparison() {
	c.mu.Lock()
	c.batch = nil
	c.mu.Unlock()
}
