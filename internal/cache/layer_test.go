package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"weaver/internal/compose"
	"weaver/internal/config"
	"weaver/internal/conversation"
	"weaver/internal/registry"
	"weaver/internal/retrieval"
)

func testLayer(t *testing.T) *Layer {
	t.Helper()
	layer, err := New(config.CacheConfig{EmbeddingEntries: 8, RetrievalEntries: 8, CompositionEntries: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return layer
}

func TestEmbeddingMemoizesByContent(t *testing.T) {
	layer := testLayer(t)
	calls := 0
	fn := func(ctx context.Context, text string) ([]float32, error) {
		calls++
		return []float32{1, 2}, nil
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := layer.Embedding(ctx, "same text", fn)
		if err != nil {
			t.Fatal(err)
		}
		if len(v) != 2 {
			t.Fatalf("vector = %v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("compute calls = %d, want 1", calls)
	}
	if _, err := layer.Embedding(ctx, "different text", fn); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("different content must compute, calls = %d", calls)
	}
}

func TestEmbeddingFailureIsNotCached(t *testing.T) {
	layer := testLayer(t)
	calls := 0
	fail := true
	fn := func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if fail {
			return nil, errors.New("down")
		}
		return []float32{1}, nil
	}
	ctx := context.Background()

	if _, err := layer.Embedding(ctx, "t", fn); err == nil {
		t.Fatal("expected failure")
	}
	fail = false
	if _, err := layer.Embedding(ctx, "t", fn); err != nil {
		t.Fatalf("recovery must reach the provider: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestEmbeddingCollapsesConcurrentComputes(t *testing.T) {
	layer := testLayer(t)
	var mu sync.Mutex
	calls := 0
	gate := make(chan struct{})
	fn := func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-gate
		return []float32{1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = layer.Embedding(context.Background(), "shared", fn)
		}()
	}
	// Let every goroutine reach the in-flight compute before releasing it.
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("concurrent identical computes = %d, want 1", calls)
	}
}

func TestRetrievalDegradedResultsAreNotCached(t *testing.T) {
	layer := testLayer(t)

	layer.PutRetrieval("k", &retrieval.Result{Degraded: true})
	if _, ok := layer.Retrieval("k"); ok {
		t.Fatal("degraded results must not be cached")
	}

	layer.PutRetrieval("k", &retrieval.Result{UsedTokens: 10})
	if result, ok := layer.Retrieval("k"); !ok || result.UsedTokens != 10 {
		t.Fatal("healthy results must be cached")
	}
}

func TestCompositionDegradedResultsAreNotCached(t *testing.T) {
	layer := testLayer(t)
	layer.PutComposition("k", &compose.ComposedContext{Degraded: true})
	if _, ok := layer.Composition("k"); ok {
		t.Fatal("degraded compositions must not be cached")
	}
}

func TestInvalidateModuleDropsDependents(t *testing.T) {
	layer := testLayer(t)

	layer.PutRetrieval("r1", &retrieval.Result{})
	layer.PutComposition("c1", &compose.ComposedContext{ModuleIDs: []string{"a", "b"}})
	layer.PutComposition("c2", &compose.ComposedContext{ModuleIDs: []string{"b"}})
	layer.PutComposition("c3", &compose.ComposedContext{ModuleIDs: []string{"c"}})

	layer.InvalidateModule("a")

	if _, ok := layer.Retrieval("r1"); ok {
		t.Fatal("module mutation must purge the retrieval cache")
	}
	if _, ok := layer.Composition("c1"); ok {
		t.Fatal("compositions including the module must drop")
	}
	if _, ok := layer.Composition("c2"); !ok {
		t.Fatal("compositions not including the module must survive")
	}
	if _, ok := layer.Composition("c3"); !ok {
		t.Fatal("unrelated compositions must survive")
	}
}

func TestInvalidateUnknownModuleIsHarmless(t *testing.T) {
	layer := testLayer(t)
	layer.PutComposition("c", &compose.ComposedContext{ModuleIDs: []string{"x"}})
	layer.InvalidateModule("never-seen")
	if _, ok := layer.Composition("c"); !ok {
		t.Fatal("unrelated compositions must survive")
	}
}

func TestClearEmptiesEverything(t *testing.T) {
	layer := testLayer(t)
	ctx := context.Background()
	if _, err := layer.Embedding(ctx, "t", func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1}, nil
	}); err != nil {
		t.Fatal(err)
	}
	layer.PutRetrieval("r", &retrieval.Result{})
	layer.PutComposition("c", &compose.ComposedContext{ModuleIDs: []string{"m"}})

	layer.Clear()

	if _, ok := layer.Retrieval("r"); ok {
		t.Fatal("retrievals must be cleared")
	}
	if _, ok := layer.Composition("c"); ok {
		t.Fatal("compositions must be cleared")
	}
}

func TestHitRate(t *testing.T) {
	layer := testLayer(t)
	if layer.HitRate() != 0 {
		t.Fatal("no lookups yet")
	}
	layer.PutRetrieval("r", &retrieval.Result{})
	layer.Retrieval("r")    // hit
	layer.Retrieval("miss") // miss
	if got := layer.HitRate(); got != 0.5 {
		t.Fatalf("HitRate = %v, want 0.5", got)
	}
}

func TestRetrievalKeyDependsOnInputs(t *testing.T) {
	base := RetrievalKey("query", registry.Filters{Domain: "d", Tags: []string{"x", "y"}}, 100)

	if RetrievalKey("query", registry.Filters{Domain: "d", Tags: []string{"y", "x"}}, 100) != base {
		t.Fatal("tag order must not change the key")
	}
	if RetrievalKey("other", registry.Filters{Domain: "d", Tags: []string{"x", "y"}}, 100) == base {
		t.Fatal("query must change the key")
	}
	if RetrievalKey("query", registry.Filters{Domain: "d", Tags: []string{"x", "y"}}, 200) == base {
		t.Fatal("budget must change the key")
	}
	if RetrievalKey("query", registry.Filters{Domain: "e", Tags: []string{"x", "y"}}, 100) == base {
		t.Fatal("domain must change the key")
	}
}

func TestCompositionKeyDependsOnInputs(t *testing.T) {
	base := CompositionKey([]string{"a", "b"}, "conv", "prof", "q", "claude")

	if CompositionKey([]string{"b", "a"}, "conv", "prof", "q", "claude") != base {
		t.Fatal("module id order must not change the key")
	}
	if CompositionKey([]string{"a"}, "conv", "prof", "q", "claude") == base {
		t.Fatal("module set must change the key")
	}
	if CompositionKey([]string{"a", "b"}, "other", "prof", "q", "claude") == base {
		t.Fatal("conversation hash must change the key")
	}
	if CompositionKey([]string{"a", "b"}, "conv", "other", "q", "claude") == base {
		t.Fatal("profile hash must change the key")
	}
	if CompositionKey([]string{"a", "b"}, "conv", "prof", "q2", "claude") == base {
		t.Fatal("query must change the key")
	}
	if CompositionKey([]string{"a", "b"}, "conv", "prof", "q", "gpt-4") == base {
		t.Fatal("target model must change the key")
	}
}

func TestConversationHashChangesWithContent(t *testing.T) {
	a := ConversationHash(conversation.History{Exchanges: []conversation.Exchange{
		{UserMessage: "hi", AssistantMessage: "hello"},
	}})
	b := ConversationHash(conversation.History{Exchanges: []conversation.Exchange{
		{UserMessage: "hi", AssistantMessage: "goodbye"},
	}})
	if a == b {
		t.Fatal("different histories must hash differently")
	}
	if a != ConversationHash(conversation.History{Exchanges: []conversation.Exchange{
		{UserMessage: "hi", AssistantMessage: "hello"},
	}}) {
		t.Fatal("identical histories must hash identically")
	}
}

func TestProfileHashIsOrderIndependent(t *testing.T) {
	a := ProfileHash(map[string]string{"x": "1", "y": "2"})
	b := ProfileHash(map[string]string{"y": "2", "x": "1"})
	if a != b {
		t.Fatal("map iteration order must not affect the hash")
	}
	if a == ProfileHash(map[string]string{"x": "1"}) {
		t.Fatal("different attributes must hash differently")
	}
}
