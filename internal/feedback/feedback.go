// Package feedback records per-module usefulness signals and derives an
// effectiveness score that the retrieval pipeline blends into its rerank
// authority signal. Free-text comments are scored with a small sentiment
// lexicon; explicit numeric scores take precedence.
package feedback

import (
	"context"
	"strings"
	"time"
)

// Entry is one recorded piece of feedback about a module.
type Entry struct {
	ModuleID  string    `json:"module_id"`
	Score     float64   `json:"score"` // in [-1, 1]; from sentiment when not explicit
	Comment   string    `json:"comment"`
	Model     string    `json:"model"` // target model in use, if known
	CreatedAt time.Time `json:"created_at"`
}

// Store abstracts feedback persistence.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, entry Entry) error
	// Averages returns the mean score per module id.
	Averages(ctx context.Context) (map[string]float64, error)
	Delete(ctx context.Context, moduleID string) error
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "helpful": true,
	"useful": true, "clear": true, "effective": true, "improved": true,
	"better": true, "best": true, "perfect": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "unclear": true, "confusing": true,
	"unhelpful": true, "worse": true, "wrong": true, "incorrect": true,
	"error": true, "issue": true, "problem": true, "bug": true,
}

// AnalyzeSentiment scores free text in [-1, 1] with a keyword lexicon.
// Text containing no lexicon words scores 0 (neutral).
func AnalyzeSentiment(text string) float64 {
	var positive, negative int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if positiveWords[word] {
			positive++
		}
		if negativeWords[word] {
			negative++
		}
	}
	total := positive + negative
	if total == 0 {
		return 0
	}
	return float64(positive-negative) / float64(total)
}
