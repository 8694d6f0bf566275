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

import "errors"

// Precondition failures. They are returned before any state is touched.
var (
	ErrInvalidIndex  = errors.New("pipeline: invalid index")
	ErrInvalidState  = errors.New("pipeline: operation not allowed in current state")
	ErrBusy          = errors.New("pipeline: a call is already in flight")
	ErrUnknownBranch = errors.New("pipeline: unknown branch")
	ErrUnknownAgent  = errors.New("pipeline: unknown agent")
	ErrNoCredentials = errors.New("pipeline: no usable credential configured")
	ErrStaleResume   = errors.New("pipeline: saved run does not match the current workflow")
	ErrStaleResult   = errors.New("pipeline: result arrived after the run changed")
	ErrTooFewModels  = errors.New("pipeline: comparison needs at least two models")
	ErrEmptyMessage  = errors.New("pipeline: empty message")
	ErrNoComparison  = errors.New("pipeline: no comparison result to select")
	ErrNoStore       = errors.New("pipeline: no store configured")
)
