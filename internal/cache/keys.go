package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"weaver/internal/conversation"
	"weaver/internal/registry"
)

// HashContent returns the content-addressed key for a module's text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RetrievalKey derives a stable key from the query, filters, and knowledge
// budget, everything fine-grained selection depends on.
func RetrievalKey(query string, filters registry.Filters, knowledgeBudget int) string {
	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\x00")
	sb.WriteString(filters.Domain)
	sb.WriteString("\x00")
	tags := append([]string(nil), filters.Tags...)
	sort.Strings(tags)
	sb.WriteString(strings.Join(tags, ","))
	sb.WriteString("\x00")
	priorities := make([]string, 0, len(filters.Priorities))
	for _, p := range filters.Priorities {
		priorities = append(priorities, string(p))
	}
	sort.Strings(priorities)
	sb.WriteString(strings.Join(priorities, ","))
	fmt.Fprintf(&sb, "\x00%d", knowledgeBudget)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ConversationHash fingerprints a history snapshot so composition cache keys
// change whenever the rendered conversation would.
func ConversationHash(history conversation.History) string {
	var sb strings.Builder
	if history.Summary != nil {
		sb.WriteString(history.Summary.Text)
	}
	for _, ex := range history.Exchanges {
		sb.WriteString("\x00")
		sb.WriteString(ex.UserMessage)
		sb.WriteString("\x01")
		sb.WriteString(ex.AssistantMessage)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ProfileHash fingerprints the profile attributes that render into the
// system section.
func ProfileHash(attributes map[string]string) string {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("\x01")
		sb.WriteString(attributes[k])
		sb.WriteString("\x00")
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// CompositionKey derives a stable key from everything that renders into the
// final payload: the selected module ids, the conversation and profile
// fingerprints, the query, and the target model.
func CompositionKey(moduleIDs []string, conversationHash, profileHash, query, targetModel string) string {
	ids := append([]string(nil), moduleIDs...)
	sort.Strings(ids)
	payload := strings.Join(ids, ",") + "\x00" + conversationHash + "\x00" +
		profileHash + "\x00" + query + "\x00" + targetModel
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
