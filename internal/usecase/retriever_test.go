package usecase

import (
	"context"
	"strings"
	"testing"

	"aembot/internal/domain"
	"aembot/internal/infra/config"
)

// stubIndex is a canned FragmentIndex.
type stubIndex struct {
	ready bool
	frags []domain.Fragment
	err   error
}

func (s *stubIndex) Search(_ context.Context, _ string, limit int) ([]domain.Fragment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.frags) > limit {
		return s.frags[:limit], nil
	}
	return s.frags, nil
}

func (s *stubIndex) Ready() bool { return s.ready }

func newTestRetriever(t *testing.T, index domain.FragmentIndex, llm domain.LLMProvider) *Retriever {
	t.Helper()
	r, err := NewRetriever(index, llm, config.RetrieverConfig{
		TopK:             4,
		MaxContextTokens: 6000,
		PreviewLen:       200,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	return r
}

func TestRetrieverNotReady(t *testing.T) {
	r := newTestRetriever(t, &stubIndex{ready: false}, &scriptedLLM{})

	if r.Ready() {
		t.Error("Ready() = true for unloaded index")
	}
	result := r.Answer(context.Background(), "what is aem")
	if result.Answer == "" || len(result.Sources) != 0 {
		t.Errorf("result = %+v, want unavailable answer with no sources", result)
	}
}

func TestRetrieverAnswerWithSources(t *testing.T) {
	index := &stubIndex{ready: true, frags: []domain.Fragment{
		{Content: "Adobe Experience Manager is a content management system.", Source: "overview.md", Score: 0.9},
		{Content: "The dispatcher is AEM's caching and security layer.", Source: "dispatcher.md", Score: 0.7},
	}}
	llm := &scriptedLLM{replies: []string{"AEM is a CMS from Adobe."}}
	r := newTestRetriever(t, index, llm)

	result := r.Answer(context.Background(), "What is Adobe Experience Manager?")
	if result.Answer != "AEM is a CMS from Adobe." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(result.Sources))
	}
	if result.Sources[0].Source != "overview.md" {
		t.Errorf("sources[0].Source = %q", result.Sources[0].Source)
	}

	// The generation prompt must carry the fragment context.
	user := llm.lastReq.Messages[1].Content
	if !strings.Contains(user, "content management system") {
		t.Error("generation prompt should contain the retrieved context")
	}
	if !strings.Contains(user, "What is Adobe Experience Manager?") {
		t.Error("generation prompt should contain the question")
	}
}

func TestRetrieverSearchFailure(t *testing.T) {
	index := &stubIndex{ready: true, err: context.DeadlineExceeded}
	llm := &scriptedLLM{}
	r := newTestRetriever(t, index, llm)

	result := r.Answer(context.Background(), "what is aem")
	if result.Answer == "" {
		t.Error("expected error-flavored answer")
	}
	if llm.calls != 0 {
		t.Error("LLM should not be called when search fails")
	}
}

func TestRetrieverNoFragments(t *testing.T) {
	r := newTestRetriever(t, &stubIndex{ready: true}, &scriptedLLM{})

	result := r.Answer(context.Background(), "what is aem")
	if result.Answer == "" || len(result.Sources) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRetrieverGenerationFailureKeepsSources(t *testing.T) {
	index := &stubIndex{ready: true, frags: []domain.Fragment{
		{Content: "some fragment", Source: "a.md", Score: 0.5},
	}}
	r := newTestRetriever(t, index, &scriptedLLM{err: context.DeadlineExceeded})

	result := r.Answer(context.Background(), "what is aem")
	if result.Answer == "" {
		t.Error("expected error-flavored answer")
	}
	if len(result.Sources) != 1 {
		t.Errorf("got %d sources, want 1", len(result.Sources))
	}
}

func TestRetrieverPreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	index := &stubIndex{ready: true, frags: []domain.Fragment{
		{Content: long, Source: "long.md", Score: 0.5},
	}}
	r := newTestRetriever(t, index, &scriptedLLM{replies: []string{"answer"}})

	result := r.Answer(context.Background(), "what is aem")
	excerpt := result.Sources[0].Excerpt
	if len([]rune(excerpt)) != 203 || !strings.HasSuffix(excerpt, "...") {
		t.Errorf("excerpt length = %d, want 200 runes plus ellipsis", len([]rune(excerpt)))
	}
}

func TestRetrieverContextTokenBound(t *testing.T) {
	big := strings.Repeat("token budget filler text ", 400)
	index := &stubIndex{ready: true, frags: []domain.Fragment{
		{Content: big, Source: "a.md", Score: 0.9},
		{Content: big, Source: "b.md", Score: 0.8},
		{Content: big, Source: "c.md", Score: 0.7},
	}}
	llm := &scriptedLLM{replies: []string{"answer"}}

	r, err := NewRetriever(index, llm, config.RetrieverConfig{
		TopK:             4,
		MaxContextTokens: 1500,
		PreviewLen:       200,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	result := r.Answer(context.Background(), "what is aem")
	// Each fragment is well over 1000 tokens, so only the first fits.
	if len(result.Sources) != 1 {
		t.Errorf("got %d sources, want 1 within the token budget", len(result.Sources))
	}
	if result.Sources[0].Source != "a.md" {
		t.Errorf("kept source = %q, want the highest ranked", result.Sources[0].Source)
	}
}
