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

package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindCredentialMissing ErrorKind = "credential_missing"
	KindCredentialInvalid ErrorKind = "credential_invalid"
	KindRateLimit         ErrorKind = "rate_limit"
	KindContextTooLarge   ErrorKind = "context_too_large"
	KindUpstream          ErrorKind = "upstream"
	KindNetwork           ErrorKind = "network"
	KindUnknown           ErrorKind = "unknown"
)

// CallError is returned by every Gateway failure.
type CallError struct {
	Kind     ErrorKind
	Provider ModelType
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resending the same request may succeed.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindUpstream, KindNetwork:
		return true
	}
	return false
}

// Suggestion is a short hint on how the user can fix the failure.
func (e *CallError) Suggestion() string {
	switch e.Kind {
	case KindCredentialMissing:
		return fmt.Sprintf("No API key configured for %s. Add it to the providers section or the environment.", e.Provider)
	case KindCredentialInvalid:
		return fmt.Sprintf("Check your %s API key is correct.", e.Provider)
	case KindRateLimit:
		return "Rate limit exceeded. Wait a moment and try again, or upgrade your plan."
	case KindContextTooLarge:
		return "Input too long. Try reducing your prompt or context length."
	case KindUpstream:
		return "The API service may be experiencing issues. Try again later."
	case KindNetwork:
		return "Network error. Check your internet connection and try again."
	}
	return "Unknown error. Please try again or check the logs for details."
}

// KindOf returns the kind of err, or KindUnknown when err is not a *CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if stderrors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Classify wraps a raw provider error into a *CallError.
func Classify(provider ModelType, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if stderrors.As(err, &ce) {
		return err
	}
	return &CallError{Kind: classify(err), Provider: provider, Err: err}
}

// statusCodePattern finds an HTTP status code reported by a provider SDK,
// either leading the message or following "status code" or "HTTP".
var statusCodePattern = regexp.MustCompile(`(?i)(?:^|\bstatus(?:[ _]?code)?\s*[:=]?\s*|\bhttp\s+)(\d{3})\b`)

var eofPattern = regexp.MustCompile(`\beof\b`)

func statusKind(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindCredentialInvalid
	case code == 429:
		return KindRateLimit
	case code == 413:
		return KindContextTooLarge
	case code >= 500 && code <= 599:
		return KindUpstream
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func classify(err error) ErrorKind {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var ne net.Error
	if stderrors.As(err, &ne) {
		return KindNetwork
	}
	msg := err.Error()
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if k := statusKind(code); k != KindUnknown {
			return k
		}
	}
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "unauthorized", "invalid_api_key", "invalid api key", "authentication_error"):
		return KindCredentialInvalid
	case containsAny(lower, "rate_limit", "rate limit", "too many requests", "quota"):
		return KindRateLimit
	case containsAny(lower, "context_length", "too long", "max_tokens", "maximum context"):
		return KindContextTooLarge
	case containsAny(lower, "internal server error", "bad gateway", "service unavailable", "overloaded", "gateway timeout"):
		return KindUpstream
	case containsAny(lower, "timeout", "connection reset", "connection refused", "no such host",
		"read tcp", "write tcp", "network") || eofPattern.MatchString(lower):
		return KindNetwork
	}
	return KindUnknown
}
