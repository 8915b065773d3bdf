package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"weaver/internal/errors"
)

func TestOpenAIEmbedderSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(EmbedderConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
	}, nil)

	vec, err := embedder.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("vector = %v", vec)
	}
	if gotPath != "/embeddings" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "text-embedding-3-small" {
		t.Fatalf("model = %v, default not applied", gotBody["model"])
	}
	inputs, ok := gotBody["input"].([]any)
	if !ok || len(inputs) != 1 || inputs[0] != "hello world" {
		t.Fatalf("input = %v", gotBody["input"])
	}
}

func TestOpenAIEmbedderAPIErrorWrapsAsEmbeddingError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(EmbedderConfig{BaseURL: server.URL}, nil)
	_, err := embedder.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsDegradable(err) {
		t.Fatalf("API failures must surface as degradable embedding errors, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-transient API errors must not be retried, calls = %d", calls)
	}
}

func TestOpenAIEmbedderEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(EmbedderConfig{BaseURL: server.URL}, nil)
	if _, err := embedder.Embed(context.Background(), "text"); err == nil {
		t.Fatal("empty data must be an error")
	}
}

func TestOpenAIEmbedderDefaults(t *testing.T) {
	embedder := NewOpenAIEmbedder(EmbedderConfig{}, nil)
	if got := embedder.Dimensions(); got != 1536 {
		t.Fatalf("Dimensions = %d, want 1536", got)
	}
}

func TestOpenAISummarizerSuccess(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  a tidy summary \n"}},
			},
		})
	}))
	defer server.Close()

	summarizer := NewOpenAISummarizer(SummarizerConfig{BaseURL: server.URL}, nil)
	summary, err := summarizer.Summarize(context.Background(), "user: hi\nassistant: hello")
	if err != nil {
		t.Fatal(err)
	}
	if summary != "a tidy summary" {
		t.Fatalf("summary = %q, want trimmed content", summary)
	}
	if gotBody.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q, default not applied", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system prompt then user text", gotBody.Messages)
	}
	if gotBody.Messages[1].Content != "user: hi\nassistant: hello" {
		t.Fatalf("user content = %q", gotBody.Messages[1].Content)
	}
}

func TestOpenAISummarizerAPIErrorWrapsAsSummarizationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	summarizer := NewOpenAISummarizer(SummarizerConfig{BaseURL: server.URL}, nil)
	_, err := summarizer.Summarize(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsDegradable(err) {
		t.Fatalf("API failures must surface as degradable summarization errors, got %v", err)
	}
}

func TestFakeEmbedderDeterminism(t *testing.T) {
	fake := NewFakeEmbedder(0)
	if fake.Dimensions() != 32 {
		t.Fatalf("default dim = %d, want 32", fake.Dimensions())
	}

	ctx := context.Background()
	a1, err := fake.Embed(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := fake.Embed(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	b, err := fake.Embed(ctx, "beta")
	if err != nil {
		t.Fatal(err)
	}

	if len(a1) != 32 {
		t.Fatalf("len = %d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("identical texts must embed identically")
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts must embed differently")
	}
	if fake.Calls.Load() != 3 {
		t.Fatalf("Calls = %d, want 3", fake.Calls.Load())
	}
}

func TestFakeEmbedderFail(t *testing.T) {
	fake := NewFakeEmbedder(8)
	fake.Fail.Store(true)
	_, err := fake.Embed(context.Background(), "text")
	if err == nil || !errors.IsDegradable(err) {
		t.Fatalf("want degradable embedding error, got %v", err)
	}
	fake.Fail.Store(false)
	if _, err := fake.Embed(context.Background(), "text"); err != nil {
		t.Fatal(err)
	}
}

func TestFakeSummarizer(t *testing.T) {
	fake := NewFakeSummarizer()
	ctx := context.Background()

	summary, err := fake.Summarize(ctx, "first line\ndetail\n\nsecond paragraph\nmore detail")
	if err != nil {
		t.Fatal(err)
	}
	if summary != "Summary: first line | second paragraph" {
		t.Fatalf("summary = %q", summary)
	}

	empty, err := fake.Summarize(ctx, "   \n\n  ")
	if err != nil {
		t.Fatal(err)
	}
	if empty != "(empty conversation)" {
		t.Fatalf("empty = %q", empty)
	}

	fake.Fail.Store(true)
	if _, err := fake.Summarize(ctx, "text"); err == nil || !errors.IsDegradable(err) {
		t.Fatalf("want degradable summarization error, got %v", err)
	}
}
