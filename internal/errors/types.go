// Package errors defines the engine's error taxonomy and the retry/circuit
// breaker helpers used around external provider calls.
//
// Propagation policy: configuration and budget errors surface immediately to
// the caller; provider-level failures (embedding, summarization) are absorbed
// locally and reflected via the degraded flag on results.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// InsufficientBudgetError reports that the mandatory sections cannot fit
// within the total token limit. It is raised before any provider call.
type InsufficientBudgetError struct {
	Section   string // section that could not be satisfied
	Required  int
	Available int
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget for %s section: need %d tokens, %d available",
		e.Section, e.Required, e.Available)
}

// ModuleNotFoundError reports a rule-required module missing from the registry.
type ModuleNotFoundError struct {
	ID string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("context module %q not found in registry", e.ID)
}

// ConfigError reports malformed engine configuration (bad ratios, negative
// limits). Surfaced to the caller immediately, never absorbed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps an embedding provider failure. Retrieval degrades to
// rule/filter-only results instead of failing the request.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// SummarizationError wraps a summarizer failure. Conversation management
// falls back to hard truncation when it occurs.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarizer: %v", e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// IsInsufficientBudget reports whether err is a budget failure.
func IsInsufficientBudget(err error) bool {
	var target *InsufficientBudgetError
	return errors.As(err, &target)
}

// IsModuleNotFound reports whether err is a missing-module failure.
func IsModuleNotFound(err error) bool {
	var target *ModuleNotFoundError
	return errors.As(err, &target)
}

// IsConfig reports whether err is a configuration failure.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsDegradable reports whether err is a provider-level failure the engine
// absorbs locally (reflected via a degraded flag rather than raised).
func IsDegradable(err error) bool {
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return true
	}
	var sumErr *SummarizationError
	return errors.As(err, &sumErr)
}

// IsTransient reports whether err is worth retrying: provider failures,
// network errors, and deadline expiry. Budget, config, and missing-module
// errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsInsufficientBudget(err) || IsConfig(err) || IsModuleNotFound(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if IsDegradable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
