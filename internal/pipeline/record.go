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
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/agentrelay/internal/artifact"
	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/pkg/errors"
)

// RunRecord is a completed run as kept in run history.
type RunRecord struct {
	ID           string         `json:"id" yaml:"id"`
	Timestamp    time.Time      `json:"timestamp" yaml:"timestamp"`
	Name         string         `json:"name" yaml:"name"`
	Mode         Mode           `json:"mode" yaml:"mode"`
	InitialInput string         `json:"initial_input" yaml:"initial_input"`
	Logs         []LogEntry     `json:"logs" yaml:"logs"`
	Memory       []memory.Entry `json:"memory" yaml:"memory"`
	// Workflow is only set for interactive runs, whose steps are not configured up front.
	Workflow []WorkflowStep `json:"workflow,omitempty" yaml:"workflow,omitempty"`
}

// RunName labels a run by its start time and the head of its input.
func RunName(t time.Time, input string) string {
	head := memory.Truncate(input, 30)
	return fmt.Sprintf("Run %s - %s...", t.Format("15:04:05"), head)
}

func (c *Controller) record() RunRecord {
	run := c.run
	now := c.now()
	rec := RunRecord{
		ID:           run.ID,
		Timestamp:    now,
		Name:         RunName(now, run.InitialInput),
		Mode:         run.Mode,
		InitialInput: run.InitialInput,
		Logs:         append([]LogEntry(nil), run.Logs...),
		Memory:       run.Memory.Entries(),
	}
	if run.Mode == ModeInteractive {
		rec.Workflow = append([]WorkflowStep(nil), c.workflow...)
	}
	return rec
}

// saveRun records the live run as the last run and persists it. The run
// stays complete when the store fails.
func (c *Controller) saveRun(ctx context.Context) error {
	rec := c.record()
	c.lastRun = &rec
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveRun(ctx, rec); err != nil {
		log.Error("save run %s failed: %v", rec.ID, err)
		return errors.Wrapf(err, "save run %s", rec.ID)
	}
	return nil
}

// LastRun returns the record of the most recently completed run, if any.
func (c *Controller) LastRun() (RunRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun == nil {
		return RunRecord{}, false
	}
	return *c.lastRun, true
}

// Resume reopens the last finalized step of rec. The workflow the record is
// checked against is the configured one for linear runs and the recorded one
// for interactive runs.
func (c *Controller) Resume(ctx context.Context, rec RunRecord) error {
	c.mu.Lock()
	defer c.unlock()
	if c.busy {
		return ErrBusy
	}
	if st := c.run.State; st != StateIdle && st != StateComplete {
		return ErrInvalidState
	}
	mode := rec.Mode
	if mode == "" {
		mode = ModeLinear
	}
	workflow := c.steps
	if mode == ModeInteractive {
		workflow = rec.Workflow
	}
	idx := len(rec.Logs) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(workflow) {
		return ErrStaleResume
	}
	for i, l := range rec.Logs {
		agent, ok := findAgent(c.agents, workflow[i].AgentID)
		if !ok || agent.Name != l.Agent {
			return errors.Wrapf(ErrStaleResume, "step %d was run by %q", l.Step, l.Agent)
		}
	}

	c.gen.Add(1)
	c.workflow = append([]WorkflowStep(nil), workflow...)
	run := c.newRun(rec.ID, mode, rec.InitialInput)
	run.Logs = append([]LogEntry(nil), rec.Logs...)
	run.PipelineFiles = pipelineFilesOf(rec.Logs)
	run.Memory = memory.New(rec.Memory...)
	run.Memory.SetClock(c.now)
	c.run = run
	c.batch = nil
	c.branches.Reset()

	seed := run.InitialInput
	if idx > 0 {
		seed = run.PipelineFiles[idx-1].Content
	}
	c.setState(StateRunning)
	if err := c.initStep(ctx, idx, seed); err != nil {
		return err
	}

	for _, e := range run.Memory.ForStep(idx + 1) {
		run.History = append(run.History,
			llm.Turn{Role: llm.RoleUser, Content: e.UserMessage},
			llm.Turn{Role: llm.RoleAgent, Content: e.AgentResponse, Model: e.Model},
		)
	}
	if len(run.History) == 0 && idx < len(rec.Logs) {
		run.History = []llm.Turn{{Role: llm.RoleAgent, Content: rec.Logs[idx].Output}}
	}
	run.Output = lastAgentOutput(run.History)
	if len(run.History) > 0 {
		run.Input = ""
	}
	log.Info("pipeline %s: resumed at step %d", run.ID, idx+1)
	return nil
}

// ListRuns returns every persisted run.
func (c *Controller) ListRuns(ctx context.Context) ([]RunRecord, error) {
	if c.store == nil {
		return nil, ErrNoStore
	}
	return c.store.LoadAllRuns(ctx)
}

func (c *Controller) DeleteRun(ctx context.Context, id string) error {
	if c.store == nil {
		return ErrNoStore
	}
	return c.store.DeleteRun(ctx, id)
}

// Wipe removes all persisted data and forgets the last run.
func (c *Controller) Wipe(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.store.Wipe(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastRun = nil
	c.mu.Unlock()
	return nil
}

// ExportLogs renders the finalized steps of the live run as markdown.
func (c *Controller) ExportLogs() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RenderLogs(c.run.Logs)
}

// ExportMemory renders the global memory of the live run.
func (c *Controller) ExportMemory() string {
	return c.MemoryText()
}

func RenderLogs(logs []LogEntry) string {
	parts := make([]string, 0, len(logs))
	for _, l := range logs {
		parts = append(parts, fmt.Sprintf("# Step %d: %s\n\n%s", l.Step, l.Agent, l.Output))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// pipelineFilesOf rebuilds the output files of logs.
func pipelineFilesOf(logs []LogEntry) []artifact.Artifact {
	files := make([]artifact.Artifact, 0, len(logs))
	for _, l := range logs {
		files = append(files, OutputArtifact(l.Step, l.Agent, l.Output))
	}
	return files
}
