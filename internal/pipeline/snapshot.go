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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Snapshot is an immutable copy of a value together with the sha256 of its
// JSON form. Restoring a snapshot hands out a fresh copy.
type Snapshot[T any] struct {
	Kind string
	Hash string
	raw  []byte
}

// NewSnapshot serializes payload so later mutation of it cannot leak in.
func NewSnapshot[T any](kind string, payload T) (*Snapshot[T], error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", kind)
	}
	h := sha256.Sum256(raw)
	return &Snapshot[T]{
		Kind: kind,
		Hash: hex.EncodeToString(h[:]),
		raw:  raw,
	}, nil
}

// Restore decodes a fresh copy of the captured value.
func (s *Snapshot[T]) Restore() (T, error) {
	var v T
	if err := json.Unmarshal(s.raw, &v); err != nil {
		return v, errors.Wrapf(err, "restore %s", s.Kind)
	}
	return v, nil
}
