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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/agentrelay/internal/guardrail"
	"github.com/cloudwego/agentrelay/internal/memory"
	"github.com/cloudwego/agentrelay/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers "answer N" for the N-th call unless reply is set.
type fakeGateway struct {
	mu      sync.Mutex
	reqs    []llm.Request
	reply   func(n int, req llm.Request) (string, error)
	noCreds map[string]bool
}

func (f *fakeGateway) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(n, req)
	}
	return fmt.Sprintf("answer %d", n), nil
}

func (f *fakeGateway) Stream(ctx context.Context, req llm.Request, onDelta llm.StreamFunc) (string, error) {
	text, err := f.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	half := len(text) / 2
	onDelta(text[:half], text[:half])
	onDelta(text[half:], text)
	return text, nil
}

func (f *fakeGateway) HasCredential(model string) bool {
	return !f.noCreds[model]
}

func (f *fakeGateway) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

func (f *fakeGateway) last() llm.Request {
	reqs := f.requests()
	return reqs[len(reqs)-1]
}

type fakeStore struct {
	mu   sync.Mutex
	kv   map[string]any
	runs []RunRecord

	saveRunErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{kv: map[string]any{}}
}

func (s *fakeStore) Save(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *fakeStore) Load(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return false, nil
	}
	switch o := out.(type) {
	case *[]Agent:
		*o = append([]Agent(nil), v.([]Agent)...)
	case *[]WorkflowStep:
		*o = append([]WorkflowStep(nil), v.([]WorkflowStep)...)
	case *guardrail.Settings:
		*o = v.(guardrail.Settings)
	default:
		return false, fmt.Errorf("unexpected type %T", out)
	}
	return true, nil
}

func (s *fakeStore) SaveRun(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveRunErr != nil {
		return s.saveRunErr
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) LoadAllRuns(ctx context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunRecord(nil), s.runs...), nil
}

func (s *fakeStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == id {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = map[string]any{}
	s.runs = nil
	return nil
}

var agentNames = []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}

func testAgents(n int) ([]Agent, []WorkflowStep) {
	agents := make([]Agent, n)
	steps := make([]WorkflowStep, n)
	for i := 0; i < n; i++ {
		agents[i] = Agent{
			ID:     fmt.Sprintf("a%d", i),
			Name:   agentNames[i],
			Model:  "gpt-4o",
			Prompt: "You are " + agentNames[i] + ".",
		}
		steps[i] = WorkflowStep{ID: fmt.Sprintf("s%d", i), AgentID: agents[i].ID, Task: fmt.Sprintf("task %d", i+1)}
	}
	return agents, steps
}

func newTestController(t *testing.T, n int) (*Controller, *fakeGateway, *fakeStore) {
	t.Helper()
	gw := &fakeGateway{}
	st := newFakeStore()
	agents, steps := testAgents(n)
	c := NewController(Options{
		Gateway:    gw,
		Store:      st,
		Agents:     agents,
		Workflow:   steps,
		Guardrails: guardrail.DefaultSettings(),
		Clock:      func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return c, gw, st
}

// advance sends the seeded turn of the active step and finalizes it.
func advance(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	_, err := c.SendTurn(ctx, "", nil, false, nil)
	require.NoError(t, err)
	require.NoError(t, c.FinalizeStep(ctx))
}

func TestLinearRun(t *testing.T) {
	ctx := context.Background()
	c, gw, st := newTestController(t, 2)

	var events []Event
	c.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, c.Start(ctx, "plan a trip", ModeLinear))
	assert.Equal(t, StateInteracting, c.State())
	assert.Equal(t, 0, c.ActiveStep())
	assert.Equal(t, "plan a trip", c.Input())

	out, err := c.SendTurn(ctx, "", nil, false, nil)
	require.NoError(t, err)
	assert.Nil(t, out.Blocked)
	assert.Equal(t, "answer 1", out.Output)

	req := gw.last()
	assert.True(t, strings.HasPrefix(req.Prompt, "GOAL:\n\"plan a trip\""))
	assert.Contains(t, req.Prompt, "TASK INSTRUCTION:\ntask 1")
	assert.Contains(t, req.SystemPrompt, "SAFETY GUIDELINES:")
	assert.Empty(t, req.Memory)

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, llm.RoleUser, hist[0].Role)
	assert.Equal(t, req.Prompt, hist[0].Content)
	assert.Equal(t, "answer 1", hist[1].Content)
	assert.Empty(t, c.Input())

	require.NoError(t, c.FinalizeStep(ctx))
	assert.Equal(t, 1, c.ActiveStep())
	assert.Equal(t, "answer 1", c.Input())
	assert.Empty(t, c.History())
	files := c.PipelineFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "Output_Step_1_Alpha.md", files[0].Name)
	assert.Equal(t, "answer 1", files[0].Content)

	_, err = c.SendTurn(ctx, "", nil, false, nil)
	require.NoError(t, err)
	req = gw.last()
	assert.True(t, strings.HasPrefix(req.Prompt, "USER REQUEST:\n\"answer 1\""))
	assert.Contains(t, req.Memory, "Alpha (Step 1)")
	assert.Contains(t, req.Memory, "User: plan a trip")
	require.Len(t, req.Context, 1)
	assert.Equal(t, "Output_Step_1_Alpha.md", req.Context[0].Name)

	require.NoError(t, c.FinalizeStep(ctx))
	assert.Equal(t, StateComplete, c.State())
	assert.Equal(t, NoActiveStep, c.ActiveStep())

	logs := c.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, LogEntry{Step: 2, Agent: "Beta", Status: StepComplete, Output: "answer 2", Time: logs[1].Time}, logs[1])

	rec, ok := c.LastRun()
	require.True(t, ok)
	assert.Equal(t, "Run 12:00:00 - plan a trip...", rec.Name)
	assert.Len(t, rec.Memory, 2)
	runs, err := c.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)

	assert.Equal(t, "# Step 1: Alpha\n\nanswer 1\n\n---\n\n# Step 2: Beta\n\nanswer 2", c.ExportLogs())
	assert.Equal(t, EventState, events[0].Type)
	assert.Equal(t, EventState, events[len(events)-1].Type)
	assert.Equal(t, StateComplete, events[len(events)-1].State)
}

func TestStartPreconditions(t *testing.T) {
	ctx := context.Background()

	c, gw, _ := newTestController(t, 1)
	assert.ErrorIs(t, c.Start(ctx, "  ", ModeLinear), ErrEmptyMessage)

	gw.noCreds = map[string]bool{"gpt-4o": true}
	assert.ErrorIs(t, c.Start(ctx, "go", ModeLinear), ErrNoCredentials)
	gw.noCreds = nil

	empty := NewController(Options{Gateway: gw, Agents: []Agent{{ID: "x", Name: "X", Model: "gpt-4o"}}})
	assert.ErrorIs(t, empty.Start(ctx, "go", ModeLinear), ErrInvalidState)

	require.NoError(t, c.Start(ctx, "go", ModeLinear))
	assert.ErrorIs(t, c.Start(ctx, "again", ModeLinear), ErrInvalidState)
}

func TestFinalizeRequiresOutput(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t, 2)
	assert.ErrorIs(t, c.FinalizeStep(ctx), ErrInvalidState)
	require.NoError(t, c.Start(ctx, "go", ModeLinear))
	assert.ErrorIs(t, c.FinalizeStep(ctx), ErrInvalidState)
}

func TestRollbackDiscardsLaterSteps(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t, 5)
	require.NoError(t, c.Start(ctx, "seed", ModeLinear))
	for i := 0; i < 5; i++ {
		advance(t, c)
	}
	require.Equal(t, StateComplete, c.State())
	require.Len(t, c.Logs(), 5)

	require.NoError(t, c.Rollback(ctx, 2))
	assert.Equal(t, StateInteracting, c.State())
	assert.Equal(t, 2, c.ActiveStep())
	logs := c.Logs()
	require.Len(t, logs, 2)
	assert.Len(t, c.PipelineFiles(), 2)
	assert.Equal(t, logs[1].Output, c.Input())
	for _, e := range c.View().Memory {
		assert.LessOrEqual(t, e.Step, 2)
	}
	assert.Empty(t, c.History())

	assert.ErrorIs(t, c.Rollback(ctx, 3), ErrInvalidIndex)
	assert.ErrorIs(t, c.Rollback(ctx, -1), ErrInvalidIndex)

	require.NoError(t, c.Rollback(ctx, 0))
	assert.Empty(t, c.Logs())
	assert.Equal(t, "seed", c.Input())
	assert.Empty(t, c.MemoryText())
}

func TestRedoOverwritesStep(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t, 3)
	require.NoError(t, c.Start(ctx, "seed", ModeLinear))
	advance(t, c)
	advance(t, c)
	require.NoError(t, c.Rollback(ctx, 1))
	advance(t, c)

	logs := c.Logs()
	files := c.PipelineFiles()
	require.Len(t, logs, 2)
	require.Len(t, files, 2)
	assert.Equal(t, "answer 3", logs[1].Output)
	assert.Equal(t, "answer 3", files[1].Content)

	c.mu.Lock()
	c.commitStep(1, "Beta", "redo")
	c.mu.Unlock()
	logs = c.Logs()
	files = c.PipelineFiles()
	require.Len(t, logs, 2)
	require.Len(t, files, 2)
	assert.Equal(t, "redo", logs[1].Output)
	assert.Equal(t, "redo", files[1].Content)
}

func TestInteractiveMode(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t, 3)
	require.NoError(t, c.Start(ctx, "idea", ModeInteractive))
	assert.Equal(t, StateChoosingNext, c.State())
	assert.Empty(t, c.Workflow())

	assert.ErrorIs(t, c.AddInteractiveStep(ctx, "nope"), ErrUnknownAgent)
	require.NoError(t, c.AddInteractiveStep(ctx, "a2"))
	assert.Equal(t, StateInteracting, c.State())
	assert.Equal(t, "idea", c.Input())
	advance(t, c)
	assert.Equal(t, StateChoosingNext, c.State())
	assert.Equal(t, NoActiveStep, c.ActiveStep())

	require.NoError(t, c.AddInteractiveStep(ctx, "a0"))
	assert.Equal(t, "answer 1", c.Input())
	advance(t, c)
	require.Len(t, c.Workflow(), 2)

	require.NoError(t, c.Rollback(ctx, 0))
	assert.Len(t, c.Workflow(), 1)
	assert.Empty(t, c.Logs())

	// configured steps survive the interactive run
	c.Cancel()
	assert.Len(t, c.Workflow(), 3)
}

func TestFinishInteractive(t *testing.T) {
	ctx := context.Background()
	c, _, st := newTestController(t, 2)
	require.NoError(t, c.Start(ctx, "idea", ModeInteractive))
	assert.ErrorIs(t, c.Finish(ctx), ErrInvalidState)

	require.NoError(t, c.AddInteractiveStep(ctx, "a1"))
	assert.ErrorIs(t, c.Finish(ctx), ErrInvalidState)
	advance(t, c)
	require.NoError(t, c.Finish(ctx))
	assert.Equal(t, StateComplete, c.State())

	require.Len(t, st.runs, 1)
	assert.Equal(t, ModeInteractive, st.runs[0].Mode)
	require.Len(t, st.runs[0].Workflow, 1)
	assert.Equal(t, "a1", st.runs[0].Workflow[0].AgentID)
}

func TestSaveRunFailureIsReported(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")

	t.Run("linear", func(t *testing.T) {
		c, _, st := newTestController(t, 1)
		st.saveRunErr = diskFull
		require.NoError(t, c.Start(ctx, "seed", ModeLinear))
		_, err := c.SendTurn(ctx, "", nil, false, nil)
		require.NoError(t, err)

		err = c.FinalizeStep(ctx)
		assert.ErrorIs(t, err, diskFull)
		assert.Equal(t, StateComplete, c.State())
		rec, ok := c.LastRun()
		require.True(t, ok)
		assert.Len(t, rec.Logs, 1)
	})

	t.Run("interactive", func(t *testing.T) {
		c, _, st := newTestController(t, 1)
		st.saveRunErr = diskFull
		require.NoError(t, c.Start(ctx, "seed", ModeInteractive))
		require.NoError(t, c.AddInteractiveStep(ctx, "a0"))
		advance(t, c)

		assert.ErrorIs(t, c.Finish(ctx), diskFull)
		assert.Equal(t, StateComplete, c.State())
		assert.Empty(t, st.runs)
	})
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c, _, st := newTestController(t, 2)

	a, err := c.UpsertAgent(ctx, Agent{Name: "Writer", Model: "claude-3-5-sonnet-20241022"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	require.NoError(t, c.SetWorkflow(ctx, []WorkflowStep{{AgentID: "a0"}, {AgentID: a.ID}, {AgentID: "a1"}}))
	assert.ErrorIs(t, c.SetWorkflow(ctx, []WorkflowStep{{AgentID: "ghost"}}), ErrUnknownAgent)

	require.NoError(t, c.Start(ctx, "go", ModeLinear))
	assert.ErrorIs(t, c.DeleteAgent(ctx, a.ID), ErrInvalidState)
	assert.ErrorIs(t, c.SetWorkflow(ctx, nil), ErrInvalidState)
	c.Cancel()

	require.NoError(t, c.DeleteAgent(ctx, a.ID))
	wf := c.Workflow()
	require.Len(t, wf, 2)
	assert.Equal(t, "a0", wf[0].AgentID)
	assert.Equal(t, "a1", wf[1].AgentID)
	assert.ErrorIs(t, c.DeleteAgent(ctx, a.ID), ErrUnknownAgent)

	c.SetGuardrails(guardrail.DefaultSettings().With(guardrail.CategoryMedical, false))
	require.NoError(t, c.SaveSettings(ctx))

	restored := NewController(Options{Gateway: &fakeGateway{}, Store: st})
	require.NoError(t, restored.RestoreCatalog(ctx))
	assert.Len(t, restored.Agents(), 2)
	assert.Len(t, restored.Workflow(), 2)
	assert.False(t, restored.Guardrails().Toggles[guardrail.CategoryMedical])
}

func TestGenerateAgent(t *testing.T) {
	ctx := context.Background()
	c, gw, _ := newTestController(t, 1)
	gw.noCreds = map[string]bool{"gemini-2.5-flash": true}
	gw.reply = func(int, llm.Request) (string, error) {
		return "```json\n{\"name\": \"Critic\", \"prompt\": \"Review things.\"}\n```", nil
	}
	a, err := c.GenerateAgent(ctx, "someone who reviews drafts")
	require.NoError(t, err)
	assert.Equal(t, "Critic", a.Name)
	assert.Equal(t, DefaultAgentModel, a.Model)
	assert.Equal(t, "gpt-4o-mini", gw.last().Model)
	assert.Len(t, c.Agents(), 2)

	gw.reply = func(int, llm.Request) (string, error) { return "not json", nil }
	_, err = c.GenerateAgent(ctx, "x")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	c, gw, _ := newTestController(t, 1)
	rec := RunRecord{Memory: []memory.Entry{{Agent: "Alpha", Step: 1, AgentResponse: "did it"}}}
	_, err := c.Summarize(ctx, rec)
	require.NoError(t, err)
	req := gw.last()
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Contains(t, req.Prompt, "[Alpha]: did it")

	_, err = c.Summarize(ctx, RunRecord{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
