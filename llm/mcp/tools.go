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

package mcp

import (
	"context"

	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

const (
	ToolPipelineStart    = "pipeline_start"
	ToolPipelineSend     = "pipeline_send"
	ToolPipelineFinalize = "pipeline_finalize"
	ToolPipelineRollback = "pipeline_rollback"
	ToolPipelineCompare  = "pipeline_compare"
	ToolPipelineSelect   = "pipeline_select"
	ToolPipelineStatus   = "pipeline_status"
	ToolPipelineNext     = "pipeline_next"
	ToolPipelineFinish   = "pipeline_finish"
	ToolGuardrailCheck   = "guardrail_check"

	DescPipelineStart    = "Start a new pipeline run seeded with the user's input. mode is linear (default) or interactive."
	DescPipelineSend     = "Send a message to the active step's agent. An empty message on a fresh step sends the seeded input."
	DescPipelineFinalize = "Commit the active step's latest output and move on."
	DescPipelineRollback = "Discard every finalized step from the given 0-based step on and reopen it."
	DescPipelineCompare  = "Send one message to several models at once without changing the conversation."
	DescPipelineSelect   = "Commit one successful comparison result as the latest turn."
	DescPipelineStatus   = "Return the live run: state, active step, history, logs and memory."
	DescPipelineNext     = "Interactive mode: append a step run by the given agent, seeded with the last finalized output."
	DescPipelineFinish   = "Interactive mode: complete the run after its last finalized step and save it."
	DescGuardrailCheck   = "Evaluate text against the guardrail rules without calling any model."
)

var (
	SchemaPipelineStart    = GetJSONSchema(StartReq{})
	SchemaPipelineSend     = GetJSONSchema(SendReq{})
	SchemaPipelineFinalize = GetJSONSchema(EmptyReq{})
	SchemaPipelineRollback = GetJSONSchema(RollbackReq{})
	SchemaPipelineCompare  = GetJSONSchema(CompareReq{})
	SchemaPipelineSelect   = GetJSONSchema(SelectReq{})
	SchemaPipelineStatus   = GetJSONSchema(EmptyReq{})
	SchemaPipelineNext     = GetJSONSchema(NextReq{})
	SchemaPipelineFinish   = GetJSONSchema(EmptyReq{})
	SchemaGuardrailCheck   = GetJSONSchema(GuardrailCheckReq{})
)

var mcpPrompt = mcp.NewPrompt("drive_pipeline",
	mcp.WithPromptDescription("How to drive an agent pipeline with the pipeline tools"))

type EmptyReq struct{}

type StartReq struct {
	Input string `json:"input" jsonschema:"description=the seed input of the first step"`
	Mode  string `json:"mode,omitempty" jsonschema:"description=linear or interactive,enum=linear,enum=interactive"`
}

type SendReq struct {
	Message  string `json:"message,omitempty" jsonschema:"description=the message to send; empty sends the seeded input of a fresh step"`
	Override bool   `json:"override,omitempty" jsonschema:"description=skip overridable guardrail categories for this message only"`
}

type RollbackReq struct {
	Step int `json:"step" jsonschema:"description=0-based index of the step to reopen"`
}

type NextReq struct {
	AgentID string `json:"agent_id" jsonschema:"description=id of the agent that runs the new step"`
}

type CompareReq struct {
	Models  []string `json:"models" jsonschema:"description=model ids to compare (at least two)"`
	Message string   `json:"message,omitempty" jsonschema:"description=the message to send"`
}

type SelectReq struct {
	Model string `json:"model" jsonschema:"description=the model whose comparison result to keep"`
}

type GuardrailCheckReq struct {
	Text     string `json:"text" jsonschema:"description=the text to evaluate"`
	Override bool   `json:"override,omitempty" jsonschema:"description=skip overridable categories"`
}

type StatusResp struct {
	State      pipeline.ExecutionState `json:"state"`
	ActiveStep int                     `json:"active_step"`
	Steps      int                     `json:"finalized_steps"`
}

type SendResp struct {
	Blocked *guardrail.Verdict `json:"blocked,omitempty"`
	Output  string             `json:"output,omitempty"`
	Model   string             `json:"model,omitempty"`
}

type CompareResp struct {
	Results []pipeline.ComparisonResult `json:"results"`
}

// PipelineTools adapts a controller to tool handlers.
type PipelineTools struct {
	c    *pipeline.Controller
	gate *guardrail.Gate
}

func NewPipelineTools(c *pipeline.Controller, gate *guardrail.Gate) *PipelineTools {
	return &PipelineTools{c: c, gate: gate}
}

func (t *PipelineTools) status() *StatusResp {
	v := t.c.View()
	return &StatusResp{State: v.State, ActiveStep: v.ActiveStep, Steps: len(v.Logs)}
}

func (t *PipelineTools) Start(ctx context.Context, req StartReq) (*StatusResp, error) {
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if err := t.c.Start(ctx, req.Input, mode); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Send(ctx context.Context, req SendReq) (*SendResp, error) {
	out, err := t.c.SendTurn(ctx, req.Message, nil, req.Override, nil)
	if err != nil {
		var ce *llm.CallError
		if errors.As(err, &ce) {
			return nil, errors.Errorf("%v (%s)", err, ce.Suggestion())
		}
		return nil, err
	}
	return &SendResp{Blocked: out.Blocked, Output: out.Output, Model: out.Model}, nil
}

func (t *PipelineTools) Finalize(ctx context.Context, _ EmptyReq) (*StatusResp, error) {
	if err := t.c.FinalizeStep(ctx); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Rollback(ctx context.Context, req RollbackReq) (*StatusResp, error) {
	if err := t.c.Rollback(ctx, req.Step); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Next(ctx context.Context, req NextReq) (*StatusResp, error) {
	if err := t.c.AddInteractiveStep(ctx, req.AgentID); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Finish(ctx context.Context, _ EmptyReq) (*StatusResp, error) {
	if err := t.c.Finish(ctx); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Compare(ctx context.Context, req CompareReq) (*CompareResp, error) {
	results, err := t.c.CompareModels(ctx, req.Models, req.Message, nil)
	if err != nil {
		return nil, err
	}
	return &CompareResp{Results: results}, nil
}

func (t *PipelineTools) Select(ctx context.Context, req SelectReq) (*StatusResp, error) {
	if err := t.c.SelectComparisonResult(req.Model); err != nil {
		return nil, err
	}
	return t.status(), nil
}

func (t *PipelineTools) Status(ctx context.Context, _ EmptyReq) (*pipeline.View, error) {
	v := t.c.View()
	return &v, nil
}

func (t *PipelineTools) GuardrailCheck(ctx context.Context, req GuardrailCheckReq) (*guardrail.Verdict, error) {
	v := t.gate.Check(req.Text, t.c.Guardrails(), req.Override)
	return &v, nil
}

func getPipelineTools(t *PipelineTools) []Tool {
	return []Tool{
		NewTool(ToolPipelineStart, DescPipelineStart, SchemaPipelineStart, t.Start),
		NewTool(ToolPipelineSend, DescPipelineSend, SchemaPipelineSend, t.Send),
		NewTool(ToolPipelineFinalize, DescPipelineFinalize, SchemaPipelineFinalize, t.Finalize),
		NewTool(ToolPipelineRollback, DescPipelineRollback, SchemaPipelineRollback, t.Rollback),
		NewTool(ToolPipelineCompare, DescPipelineCompare, SchemaPipelineCompare, t.Compare),
		NewTool(ToolPipelineSelect, DescPipelineSelect, SchemaPipelineSelect, t.Select),
		NewTool(ToolPipelineStatus, DescPipelineStatus, SchemaPipelineStatus, t.Status),
		NewTool(ToolPipelineNext, DescPipelineNext, SchemaPipelineNext, t.Next),
		NewTool(ToolPipelineFinish, DescPipelineFinish, SchemaPipelineFinish, t.Finish),
		NewTool(ToolGuardrailCheck, DescGuardrailCheck, SchemaGuardrailCheck, t.GuardrailCheck),
	}
}
