package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const (
	summarySystemPrompt = "Eres un sistema que resume documentos"
	summaryUserPrefix   = "resume el siguiente documento "
)

// DefaultParallelism bounds concurrent chunk summaries.
const DefaultParallelism = 4

// ErrEmptyDocument is returned when there is nothing to summarise.
var ErrEmptyDocument = errors.New("document: empty document")

// Summarizer condenses documents with map-reduce over an LLM.
type Summarizer struct {
	llm         llm.Provider
	chunkSize   int
	parallelism int
	metrics     *observe.Metrics
}

// SummarizerOption configures a [Summarizer].
type SummarizerOption func(*Summarizer)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithParallelism bounds concurrent LLM calls.
func WithParallelism(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) SummarizerOption {
	return func(s *Summarizer) { s.metrics = m }
}

// NewSummarizer returns a Summarizer backed by p.
func NewSummarizer(p llm.Provider, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		llm:         p,
		chunkSize:   DefaultChunkSize,
		parallelism: DefaultParallelism,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Summarize returns a summary of text. Each chunk is summarised
// independently, then the partial summaries, in document order, are
// summarised once more. A one-chunk document needs a single call.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	chunks := Chunk(text, s.chunkSize)
	if len(chunks) == 0 {
		return "", ErrEmptyDocument
	}
	ctx, span := observe.StartSpan(ctx, "document.summarize")
	defer span.End()

	if len(chunks) == 1 {
		sum, err := s.summarizeChunk(ctx, chunks[0])
		if err != nil {
			return "", fmt.Errorf("document: summarize: %w", err)
		}
		return sum, nil
	}

	partials := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			sum, err := s.summarizeChunk(gctx, c)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			partials[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("document: summarize: %w", err)
	}
	observe.Logger(ctx).Debug("chunks summarised", "chunks", len(chunks))

	sum, err := s.summarizeChunk(ctx, strings.Join(partials, "\n\n"))
	if err != nil {
		return "", fmt.Errorf("document: reduce: %w", err)
	}
	return sum, nil
}

func (s *Summarizer) summarizeChunk(ctx context.Context, chunk string) (string, error) {
	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: summaryUserPrefix + chunk}},
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
