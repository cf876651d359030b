package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"aembot/internal/domain"
	"aembot/internal/infra/config"
)

// contextEncoding is the tokenizer used to bound retrieved context.
const contextEncoding = "cl100k_base"

// retrieverSystemPrompt instructs the model to stay inside the retrieved
// context instead of free-associating.
const retrieverSystemPrompt = `You are a knowledgeable assistant for Adobe Experience Manager. Answer the question using only the provided context. If the context does not contain the answer, say so plainly instead of guessing.`

// Retriever answers knowledge questions from the fragment index.
type Retriever struct {
	index      domain.FragmentIndex
	llm        domain.LLMProvider
	topK       int
	maxTokens  int
	previewLen int
	encoder    *tiktoken.Tiktoken
	logger     *slog.Logger
}

// NewRetriever creates a retriever. The token encoder is loaded once up
// front; failing to load it is a startup error, not a per-query one.
func NewRetriever(index domain.FragmentIndex, llm domain.LLMProvider, cfg config.RetrieverConfig, logger *slog.Logger) (*Retriever, error) {
	encoder, err := tiktoken.GetEncoding(contextEncoding)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %s: %w", contextEncoding, err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	previewLen := cfg.PreviewLen
	if previewLen <= 0 {
		previewLen = 200
	}

	return &Retriever{
		index:      index,
		llm:        llm,
		topK:       topK,
		maxTokens:  maxTokens,
		previewLen: previewLen,
		encoder:    encoder,
		logger:     logger,
	}, nil
}

// Ready reports whether the underlying index is loaded and populated.
func (r *Retriever) Ready() bool {
	return r.index != nil && r.index.Ready()
}

// Answer looks up fragments relevant to the question and asks the LLM to
// answer from them. Index problems produce an explanatory answer rather
// than an error: the caller always gets something to show the user.
func (r *Retriever) Answer(ctx context.Context, question string) *domain.RetrievalResult {
	if !r.Ready() {
		return &domain.RetrievalResult{
			Answer: "The knowledge base is not available right now, so I can't look that up for you.",
		}
	}

	fragments, err := r.index.Search(ctx, question, r.topK)
	if err != nil {
		r.logger.Warn("knowledge search failed", "error", err)
		return &domain.RetrievalResult{
			Answer: "I ran into a problem searching the knowledge base. Please try again.",
		}
	}
	if len(fragments) == 0 {
		return &domain.RetrievalResult{
			Answer: "I couldn't find anything relevant to that in the knowledge base.",
		}
	}

	contextText, used := r.boundedContext(fragments)

	resp, err := r.llm.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: retrieverSystemPrompt},
			{Role: domain.RoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)},
		},
	})
	if err != nil {
		r.logger.Warn("knowledge answer generation failed", "error", err)
		return &domain.RetrievalResult{
			Answer:  "I found relevant material but couldn't generate an answer from it. Please try again.",
			Sources: r.sourceRefs(used),
		}
	}

	return &domain.RetrievalResult{
		Answer:  resp.Message.Content,
		Sources: r.sourceRefs(used),
	}
}

// boundedContext joins fragment contents until the token budget is
// spent and reports which fragments made it in. At least one fragment
// is always included, truncation risk notwithstanding.
func (r *Retriever) boundedContext(fragments []domain.Fragment) (string, []domain.Fragment) {
	var (
		parts []string
		used  []domain.Fragment
		total int
	)
	for _, f := range fragments {
		n := len(r.encoder.Encode(f.Content, nil, nil))
		if len(used) > 0 && total+n > r.maxTokens {
			break
		}
		parts = append(parts, f.Content)
		used = append(used, f)
		total += n
	}
	return strings.Join(parts, "\n\n---\n\n"), used
}

// sourceRefs builds preview excerpts for the fragments behind an answer.
func (r *Retriever) sourceRefs(fragments []domain.Fragment) []domain.SourceRef {
	refs := make([]domain.SourceRef, 0, len(fragments))
	for _, f := range fragments {
		refs = append(refs, domain.SourceRef{
			Excerpt: preview(f.Content, r.previewLen),
			Source:  f.Source,
		})
	}
	return refs
}

// preview truncates content to n runes, marking the cut.
func preview(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
