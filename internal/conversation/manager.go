// Package conversation maintains bounded, summarized history per
// conversation id. Each conversation moves ACTIVE -> SUMMARIZING -> ACTIVE:
// exchanges append freely until the token ceiling is crossed, then all but
// the most recent few are collapsed into a single summary via the external
// summarizer. When even the retained window overflows, the policy is lossy
// truncation to the single most recent exchange, flagged but not an error.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"weaver/internal/config"
	"weaver/internal/errors"
	"weaver/internal/logging"
	"weaver/internal/ports"
)

// State is the lifecycle phase of one conversation.
type State string

const (
	StateActive      State = "active"
	StateSummarizing State = "summarizing"
)

// Exchange is one user/assistant turn. Immutable once created; it is only
// ever appended or collapsed into a summary.
type Exchange struct {
	UserMessage      string
	AssistantMessage string
	Timestamp        time.Time
	TokenCount       int
}

// Summary is the compressed form of all exchanges older than the retained
// window. At most one is active per conversation; re-summarization merges the
// previous summary with newly collapsed exchanges.
type Summary struct {
	Text       string
	TokenCount int
}

// History is an immutable snapshot of a conversation for composition.
type History struct {
	Summary   *Summary
	Exchanges []Exchange
	Truncated bool
}

// TotalTokens sums the summary and retained exchanges.
func (h History) TotalTokens() int {
	total := 0
	if h.Summary != nil {
		total += h.Summary.TokenCount
	}
	for _, ex := range h.Exchanges {
		total += ex.TokenCount
	}
	return total
}

// Empty reports whether the conversation has no content at all.
func (h History) Empty() bool {
	return h.Summary == nil && len(h.Exchanges) == 0
}

type conversationState struct {
	mu        sync.Mutex // serializes all appends for this id
	state     State
	summary   *Summary
	exchanges []Exchange
	truncated bool
}

// Manager holds all conversation state. Appends to distinct ids proceed
// concurrently; appends to the same id are serialized by a per-id lock so the
// sliding window never loses updates.
type Manager struct {
	cfg        config.ConversationConfig
	timeout    time.Duration
	summarizer ports.Summarizer
	tokenizer  ports.Tokenizer
	logger     logging.Logger
	clock      func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversationState
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager constructs a conversation manager. summarizer may be nil; the
// manager then always truncates instead of summarizing.
func NewManager(cfg config.ConversationConfig, providerTimeout time.Duration, summarizer ports.Summarizer, tokenizer ports.Tokenizer, opts ...ManagerOption) *Manager {
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 3
	}
	m := &Manager{
		cfg:           cfg,
		timeout:       providerTimeout,
		summarizer:    summarizer,
		tokenizer:     tokenizer,
		logger:        logging.Nop(),
		clock:         time.Now,
		conversations: make(map[string]*conversationState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AppendResult reports what maintenance an append triggered.
type AppendResult struct {
	Summarized bool // older exchanges were collapsed into a summary
	Truncated  bool // lossy truncation to the latest exchange occurred
	Degraded   bool // the summarizer failed and truncation substituted
}

// Append records one exchange and applies the sliding-window policy.
func (m *Manager) Append(ctx context.Context, conversationID, userMessage, assistantMessage string) (AppendResult, error) {
	state := m.getOrCreate(conversationID)

	state.mu.Lock()
	defer state.mu.Unlock()

	exchange := Exchange{
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		Timestamp:        m.clock(),
		TokenCount:       m.tokenizer.CountTokens(userMessage) + m.tokenizer.CountTokens(assistantMessage),
	}
	state.exchanges = append(state.exchanges, exchange)

	if m.cfg.MaxHistoryTokens <= 0 || m.totalLocked(state) <= m.cfg.MaxHistoryTokens {
		return AppendResult{}, nil
	}

	return m.shrinkLocked(ctx, conversationID, state)
}

// shrinkLocked collapses the conversation back under the token ceiling.
// Caller holds state.mu.
func (m *Manager) shrinkLocked(ctx context.Context, conversationID string, state *conversationState) (AppendResult, error) {
	state.state = StateSummarizing
	defer func() { state.state = StateActive }()

	var result AppendResult

	keep := m.cfg.KeepRecent
	if keep > len(state.exchanges) {
		keep = len(state.exchanges)
	}
	recent := state.exchanges[len(state.exchanges)-keep:]
	older := state.exchanges[:len(state.exchanges)-keep]

	recentTokens := 0
	for _, ex := range recent {
		recentTokens += ex.TokenCount
	}

	if recentTokens > m.cfg.MaxHistoryTokens {
		m.truncateLocked(conversationID, state)
		result.Truncated = true
		return result, nil
	}

	summaryText, err := m.summarize(ctx, state.summary, older)
	if err != nil {
		m.logger.Warn("summarization failed for conversation %s, truncating: %v", conversationID, err)
		// Hard truncation fallback: drop the older exchanges outright.
		state.exchanges = append([]Exchange(nil), recent...)
		state.summary = nil
		result.Degraded = true
		result.Truncated = true
		state.truncated = true
		return result, nil
	}

	summary := &Summary{
		Text:       summaryText,
		TokenCount: m.tokenizer.CountTokens(summaryText),
	}

	if summary.TokenCount+recentTokens > m.cfg.MaxHistoryTokens {
		m.truncateLocked(conversationID, state)
		result.Summarized = true
		result.Truncated = true
		return result, nil
	}

	state.summary = summary
	state.exchanges = append([]Exchange(nil), recent...)
	result.Summarized = true
	return result, nil
}

// truncateLocked keeps only the single most recent exchange. Deliberate,
// documented loss of information rather than an error.
func (m *Manager) truncateLocked(conversationID string, state *conversationState) {
	last := state.exchanges[len(state.exchanges)-1]
	state.exchanges = []Exchange{last}
	state.summary = nil
	state.truncated = true
	m.logger.Info("conversation %s truncated to the most recent exchange", conversationID)
}

// summarize merges the previous summary text with the collapsed exchanges
// into a new summary via the external summarizer, bounded by the provider
// timeout.
func (m *Manager) summarize(ctx context.Context, previous *Summary, older []Exchange) (string, error) {
	if m.summarizer == nil {
		return "", &errors.SummarizationError{Err: fmt.Errorf("no summarizer configured")}
	}

	var sb strings.Builder
	if previous != nil {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previous.Text)
		sb.WriteString("\n\n")
	}
	for _, ex := range older {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", ex.UserMessage, ex.AssistantMessage)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	text, err := m.summarizer.Summarize(ctx, sb.String())
	if err != nil {
		return "", &errors.SummarizationError{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &errors.SummarizationError{Err: fmt.Errorf("summarizer returned empty text")}
	}
	return text, nil
}

// Snapshot returns an immutable copy of the conversation history. A never
// seen id yields an empty history; state is created lazily on first append.
func (m *Manager) Snapshot(conversationID string) History {
	m.mu.Lock()
	state, ok := m.conversations[conversationID]
	m.mu.Unlock()
	if !ok {
		return History{}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	history := History{
		Exchanges: append([]Exchange(nil), state.exchanges...),
		Truncated: state.truncated,
	}
	if state.summary != nil {
		summary := *state.summary
		history.Summary = &summary
	}
	return history
}

// Reset discards all state for the conversation.
func (m *Manager) Reset(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
}

// StateOf returns the lifecycle state for a conversation id.
func (m *Manager) StateOf(conversationID string) State {
	m.mu.Lock()
	state, ok := m.conversations[conversationID]
	m.mu.Unlock()
	if !ok {
		return StateActive
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.state
}

func (m *Manager) getOrCreate(conversationID string) *conversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.conversations[conversationID]
	if !ok {
		state = &conversationState{state: StateActive}
		m.conversations[conversationID] = state
	}
	return state
}

// totalLocked sums tokens for the summary plus retained exchanges. Caller
// holds state.mu.
func (m *Manager) totalLocked(state *conversationState) int {
	total := 0
	if state.summary != nil {
		total += state.summary.TokenCount
	}
	for _, ex := range state.exchanges {
		total += ex.TokenCount
	}
	return total
}
