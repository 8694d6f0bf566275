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

	"github.com/cloudwego/agentrelay/internal/log"
	"github.com/cloudwego/agentrelay/llm"
	"golang.org/x/sync/errgroup"
)

type ComparisonStatus string

const (
	ComparisonSuccess ComparisonStatus = "success"
	ComparisonError   ComparisonStatus = "error"
)

// ComparisonResult is one model's answer in a comparison batch.
type ComparisonResult struct {
	Model  string           `json:"model"`
	Status ComparisonStatus `json:"status"`
	Output string           `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   llm.ErrorKind    `json:"kind,omitempty"`
}

// Progress is the per-model state reported while a batch runs.
type Progress string

const (
	ProgressStarting Progress = "starting"
	ProgressComplete Progress = "complete"
	ProgressError    Progress = "error"
)

// ProgressFunc may be called concurrently from several goroutines.
type ProgressFunc func(model string, p Progress, index int)

// ComparisonRunner sends one turn to several models at once.
type ComparisonRunner struct {
	Executor *Executor
}

// Compare runs in against every model concurrently and waits for all of them.
// Guardrails are off and memory is read but never written. A model failure
// only marks its own result.
func (r *ComparisonRunner) Compare(ctx context.Context, models []string, in TurnInput, onProgress ProgressFunc) ([]ComparisonResult, error) {
	if len(models) < 2 {
		return nil, ErrTooFewModels
	}
	if onProgress == nil {
		onProgress = func(string, Progress, int) {}
	}
	in.Guardrails.Enabled = false
	in.Override = true
	in.ReadOnlyMemory = true
	in.OnDelta = nil

	results := make([]ComparisonResult, len(models))
	var g errgroup.Group
	for i, model := range models {
		i, model := i, model
		g.Go(func() error {
			results[i] = r.run(ctx, model, i, in, onProgress)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (r *ComparisonRunner) run(ctx context.Context, model string, index int, in TurnInput, onProgress ProgressFunc) (res ComparisonResult) {
	res.Model = model
	defer func() {
		if p := recover(); p != nil {
			res = ComparisonResult{Model: model, Status: ComparisonError, Error: fmt.Sprintf("panic: %v", p), Kind: llm.KindUnknown}
			onProgress(model, ProgressError, index)
		}
		r.Executor.Metrics.ComparisonResult(model, string(res.Status))
	}()

	onProgress(model, ProgressStarting, index)
	in.Model = model
	out, err := r.Executor.ExecuteTurn(ctx, in)
	if err != nil {
		log.Info("comparison: %s failed: %v", model, err)
		onProgress(model, ProgressError, index)
		return ComparisonResult{Model: model, Status: ComparisonError, Error: err.Error(), Kind: llm.KindOf(err)}
	}
	onProgress(model, ProgressComplete, index)
	return ComparisonResult{Model: model, Status: ComparisonSuccess, Output: out.Output}
}
