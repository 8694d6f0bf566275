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

// Package memory holds the cross-step conversation log every agent reads.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUserMessage   = 500
	MaxAgentResponse = 2000
)

// Entry is one recorded turn. Entries are never edited after Append.
type Entry struct {
	ID            string    `json:"id" yaml:"id"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Agent         string    `json:"agent" yaml:"agent"`
	Step          int       `json:"step" yaml:"step"` // 1-based
	UserMessage   string    `json:"user_message" yaml:"user_message"`
	AgentResponse string    `json:"agent_response" yaml:"agent_response"`
	// Model is set when the turn was committed from a comparison batch.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Log is an append-only ordered list of entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// New returns a log seeded with entries, as restored from a saved run.
func New(entries ...Entry) *Log {
	l := &Log{now: time.Now}
	l.entries = append(l.entries, entries...)
	return l
}

// SetClock replaces the time source used by Append.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Append records a turn, truncating the message and response to their caps.
func (l *Log) Append(agent string, step int, userMessage, agentResponse string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now
	if now == nil {
		now = time.Now
	}
	e := Entry{
		ID:            uuid.NewString(),
		Timestamp:     now().UTC(),
		Agent:         agent,
		Step:          step,
		UserMessage:   Truncate(userMessage, MaxUserMessage),
		AgentResponse: Truncate(agentResponse, MaxAgentResponse),
	}
	l.entries = append(l.entries, e)
	return e
}

// AppendFrom records a turn produced by a specific model.
func (l *Log) AppendFrom(model, agent string, step int, userMessage, agentResponse string) Entry {
	e := l.Append(agent, step, userMessage, agentResponse)
	l.mu.Lock()
	l.entries[len(l.entries)-1].Model = model
	l.mu.Unlock()
	e.Model = model
	return e
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ForStep returns the entries recorded for one step number.
func (l *Log) ForStep(step int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Step == step {
			out = append(out, e)
		}
	}
	return out
}

// FilterUpTo returns a new log holding the entries with Step <= step.
// The receiver is left untouched.
func (l *Log) FilterUpTo(step int) *Log {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := &Log{now: l.now}
	for _, e := range l.entries {
		if e.Step <= step {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// Format renders the log as a single text block, or "" when empty.
func (l *Log) Format() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "\n\n")
}

func (e Entry) String() string {
	return fmt.Sprintf("--- [%s] %s (Step %d) ---\nUser: %s\nAgent: %s\n---",
		e.Timestamp.Format(time.RFC3339), e.Agent, e.Step, e.UserMessage, e.AgentResponse)
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
