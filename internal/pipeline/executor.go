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
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/internal/telemetry"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/cloudwego/agentrelay/llm/prompt"
	"go.opentelemetry.io/otel/attribute"
)

// TurnInput is everything one agent turn depends on.
type TurnInput struct {
	Agent Agent
	// Model overrides Agent.Model.
	Model string
	// Step is the 1-based step number recorded in memory.
	Step int
	// Message is sent to the model; Raw, when set, is what memory records instead.
	Message string
	Raw     string

	History       []llm.Turn
	Attachments   []artifact.Artifact
	StepFiles     []artifact.Artifact
	PipelineFiles []artifact.Artifact

	// Memory is read as context and appended to on success. Nil disables both.
	Memory         *memory.Log
	ReadOnlyMemory bool

	Guardrails guardrail.Settings
	Override   bool

	// OnDelta switches the call to streaming.
	OnDelta llm.StreamFunc
}

// TurnOutcome is either a block verdict or the model's output.
type TurnOutcome struct {
	Blocked *guardrail.Verdict
	Output  string
	Model   string
}

// Executor runs a single agent turn. It never retries.
type Executor struct {
	Gateway llm.Gateway
	Gate    *guardrail.Gate
	Metrics *telemetry.Metrics
}

func (e *Executor) gate() *guardrail.Gate {
	if e.Gate != nil {
		return e.Gate
	}
	return guardrail.Default()
}

// ExecuteTurn gates, assembles and sends one turn. Model failures are
// returned as *llm.CallError and leave memory untouched.
func (e *Executor) ExecuteTurn(ctx context.Context, in TurnInput) (out *TurnOutcome, err error) {
	model := in.Model
	if model == "" {
		model = in.Agent.Model
	}
	ctx, span := telemetry.StartSpan(ctx, "pipeline.turn",
		attribute.String("agent", in.Agent.Name),
		attribute.String("model", model),
		attribute.Int("step", in.Step),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if in.Guardrails.Enabled {
		if v := e.gate().Check(in.Message, in.Guardrails, in.Override); v.Blocked {
			log.Info("guardrail blocked turn of %s: category=%s severity=%s", in.Agent.Name, v.CategoryID, v.Severity)
			span.SetAttributes(attribute.String("guardrail.category", v.CategoryID))
			e.Metrics.GuardrailBlocked(v.CategoryID, string(v.Severity))
			e.Metrics.ObserveTurn(model, telemetry.StatusBlocked, 0)
			return &TurnOutcome{Blocked: &v, Model: model}, nil
		}
	}

	system := in.Agent.Prompt
	if in.Guardrails.Enabled {
		system = prompt.WithSafety(system, guardrail.SafetyInstructions)
	}
	var memText string
	if in.Memory != nil {
		memText = in.Memory.Format()
	}
	req := llm.Request{
		Model:        model,
		SystemPrompt: system,
		Prompt:       in.Message,
		Context:      artifact.Merge(in.Agent.Knowledge, in.StepFiles, in.PipelineFiles),
		Attachments:  in.Attachments,
		History:      in.History,
		Memory:       memText,
	}

	start := time.Now()
	var text string
	if in.OnDelta != nil {
		text, err = e.Gateway.Stream(ctx, req, in.OnDelta)
	} else {
		text, err = e.Gateway.Generate(ctx, req)
	}
	if err != nil {
		log.Error("turn of %s on %s failed (%s): %v", in.Agent.Name, model, llm.KindOf(err), err)
		e.Metrics.ObserveTurn(model, telemetry.StatusError, time.Since(start))
		return nil, err
	}
	e.Metrics.ObserveTurn(model, telemetry.StatusSuccess, time.Since(start))

	if in.Memory != nil && !in.ReadOnlyMemory {
		raw := in.Raw
		if raw == "" {
			raw = in.Message
		}
		in.Memory.Append(in.Agent.Name, in.Step, raw, text)
	}
	return &TurnOutcome{Output: text, Model: model}, nil
}
