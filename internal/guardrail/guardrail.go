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

// Package guardrail classifies outbound prompt text against an ordered table
// of pattern categories and decides whether the call may proceed.
package guardrail

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Severity is the impact level reported for a matched category.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Tier orders evaluation: every hard category is tried before any soft one.
type Tier int

const (
	TierHard Tier = iota
	TierSoft
)

func (t Tier) String() string {
	if t == TierHard {
		return "hard"
	}
	return "soft"
}

// Category declares one rule of the table.
type Category struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tier        Tier     `json:"tier" yaml:"tier"`
	Severity    Severity `json:"severity" yaml:"severity"`
	// CanDisable allows Settings to switch the category off.
	CanDisable bool `json:"can_disable" yaml:"can_disable"`
	// CanOverride allows a blocked call to be retried with explicit user confirmation.
	CanOverride bool     `json:"can_override" yaml:"can_override"`
	Patterns    []string `json:"patterns" yaml:"patterns"`
}

// Verdict is the result of one evaluation. It is never persisted.
type Verdict struct {
	Blocked     bool     `json:"blocked"`
	CategoryID  string   `json:"category_id,omitempty"`
	Category    string   `json:"category,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Tier        Tier     `json:"tier"`
	Severity    Severity `json:"severity,omitempty"`
	CanOverride bool     `json:"can_override"`
	Matched     string   `json:"matched,omitempty"`
}

// Settings carries the caller's toggles. A category missing from Toggles is enabled.
type Settings struct {
	// Enabled reports whether guardrails apply to outbound calls at all.
	Enabled bool            `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Toggles map[string]bool `json:"toggles,omitempty" yaml:"toggles,omitempty" mapstructure:"toggles"`
}

// DefaultSettings enforces every category.
func DefaultSettings() Settings {
	return Settings{Enabled: true}
}

// IsEnabled reports whether category id is switched on.
func (s Settings) IsEnabled(id string) bool {
	on, ok := s.Toggles[id]
	return !ok || on
}

// With returns a copy of s with one category toggled.
func (s Settings) With(id string, on bool) Settings {
	toggles := make(map[string]bool, len(s.Toggles)+1)
	for k, v := range s.Toggles {
		toggles[k] = v
	}
	toggles[id] = on
	return Settings{Enabled: s.Enabled, Toggles: toggles}
}

type compiledCategory struct {
	Category
	exprs []*regexp.Regexp
}

// Gate evaluates text against a compiled category table. It is safe for
// concurrent use.
type Gate struct {
	cats []compiledCategory
}

// NewGate compiles cats. Hard categories are moved ahead of soft ones while
// keeping declaration order inside each tier.
func NewGate(cats []Category) (*Gate, error) {
	compiled := make([]compiledCategory, 0, len(cats))
	seen := make(map[string]struct{}, len(cats))
	for _, c := range cats {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, errors.New("guardrail: category id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, errors.Errorf("guardrail: duplicate category %q", id)
		}
		seen[id] = struct{}{}
		if !isValidSeverity(c.Severity) {
			return nil, errors.Errorf("guardrail: invalid severity %q for category %s", c.Severity, id)
		}
		if len(c.Patterns) == 0 {
			return nil, errors.Errorf("guardrail: category %s has no patterns", id)
		}
		cc := compiledCategory{Category: c}
		cc.ID = id
		for _, p := range c.Patterns {
			expr, err := regexp.Compile(p)
			if err != nil {
				return nil, errors.Wrapf(err, "guardrail: invalid pattern for category %s", id)
			}
			cc.exprs = append(cc.exprs, expr)
		}
		compiled = append(compiled, cc)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Tier < compiled[j].Tier
	})
	return &Gate{cats: compiled}, nil
}

// Evaluate scans the table in order and stops at the first enabled category
// with a matching pattern.
func (g *Gate) Evaluate(text string, settings Settings) Verdict {
	return g.evaluate(text, settings, false)
}

// Check is Evaluate for a call the user has confirmed: overridable categories
// are skipped, every other category still applies.
func (g *Gate) Check(text string, settings Settings, override bool) Verdict {
	return g.evaluate(text, settings, override)
}

func (g *Gate) evaluate(text string, settings Settings, override bool) Verdict {
	if text == "" {
		return Verdict{}
	}
	for _, c := range g.cats {
		if c.CanDisable && !settings.IsEnabled(c.ID) {
			continue
		}
		if override && c.CanOverride {
			continue
		}
		for _, expr := range c.exprs {
			if m := expr.FindString(text); m != "" {
				return Verdict{
					Blocked:     true,
					CategoryID:  c.ID,
					Category:    c.Name,
					Reason:      c.Description,
					Tier:        c.Tier,
					Severity:    c.Severity,
					CanOverride: c.CanOverride,
					Matched:     m,
				}
			}
		}
	}
	return Verdict{}
}

// Categories returns the table in evaluation order, without compiled state.
func (g *Gate) Categories() []Category {
	out := make([]Category, 0, len(g.cats))
	for _, c := range g.cats {
		cat := c.Category
		cat.Patterns = append([]string(nil), c.Patterns...)
		out = append(out, cat)
	}
	return out
}

func isValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}
