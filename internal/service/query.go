package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/repokb-go/internal/db"
	"github.com/raphaelgruber/repokb-go/internal/metrics"
	"github.com/raphaelgruber/repokb-go/internal/models"
)

const (
	defaultTopK   = 5
	maxTopK       = 20
	excerptMaxLen = 200
)

// NoGroundingAnswer is returned when retrieval finds nothing. The
// synthesizer is never invoked without grounding documents.
const NoGroundingAnswer = "I couldn't find any relevant information in the knowledge base to answer your question. Please try rephrasing your query or ensure the relevant repositories have been ingested."

// VectorSearcher retrieves scored documents by embedding similarity.
type VectorSearcher interface {
	QueryVectorSearch(ctx context.Context, embedding []float32, limit int, docType, repoURL *string) ([]db.ScoredDocument, error)
}

// Synthesizer generates grounded answers from retrieved context.
type Synthesizer interface {
	SynthesizeAnswer(ctx context.Context, query, searchContext string) (string, error)
	SynthesizeAnswerStream(ctx context.Context, query, searchContext string, onToken func(token string) error) error
}

// QueryService answers questions over the indexed repositories.
type QueryService struct {
	embedder Embedder
	search   VectorSearcher
	model    Synthesizer
	stats    *metrics.Collector
	log      *slog.Logger
}

func NewQueryService(embedder Embedder, search VectorSearcher, model Synthesizer, log *slog.Logger) *QueryService {
	return &QueryService{
		embedder: embedder,
		search:   search,
		model:    model,
		log:      log,
	}
}

// WithMetrics attaches a collector recording per-operation timings.
func (s *QueryService) WithMetrics(stats *metrics.Collector) *QueryService {
	s.stats = stats
	return s
}

// QueryRequest is a question over the knowledge base, optionally
// scoped to one repository or document type.
type QueryRequest struct {
	Query   string `json:"query"`
	RepoURL string `json:"repo_url,omitempty"`
	DocType string `json:"document_type,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

// QueryResult is a synthesized answer with the sources it cites.
type QueryResult struct {
	Answer  string                   `json:"answer"`
	Sources []models.RetrievedSource `json:"sources"`
}

func (r QueryRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if r.DocType != "" {
		switch models.DocumentType(r.DocType) {
		case models.DocumentTypeCode, models.DocumentTypeCommit, models.DocumentTypeIssue, models.DocumentTypePullRequest:
		default:
			return fmt.Errorf("%w: unknown document_type %q", ErrValidation, r.DocType)
		}
	}
	return nil
}

// Ask retrieves the top matching documents and synthesizes an answer.
// With no retrieval hits it answers that nothing relevant was found and
// never calls the model.
func (s *QueryService) Ask(ctx context.Context, req QueryRequest) (QueryResult, error) {
	sources, searchContext, err := s.retrieve(ctx, req)
	if err != nil {
		return QueryResult{}, err
	}
	if len(sources) == 0 {
		return QueryResult{Answer: NoGroundingAnswer, Sources: []models.RetrievedSource{}}, nil
	}

	start := time.Now()
	answer, err := s.model.SynthesizeAnswer(ctx, req.Query, searchContext)
	if err != nil {
		return QueryResult{}, fmt.Errorf("synthesize answer: %w", err)
	}
	s.stats.RecordTiming(metrics.OpLLMGenerate, time.Since(start))
	return QueryResult{Answer: answer, Sources: sources}, nil
}

// AskStream is the streaming variant of Ask. Sources are delivered once
// before any text; text deltas concatenate to the same answer Ask would
// produce from the same retrieval.
func (s *QueryService) AskStream(
	ctx context.Context,
	req QueryRequest,
	onSources func(sources []models.RetrievedSource) error,
	onToken func(token string) error,
) error {
	sources, searchContext, err := s.retrieve(ctx, req)
	if err != nil {
		return err
	}

	if err := onSources(sources); err != nil {
		return fmt.Errorf("deliver sources: %w", err)
	}
	if len(sources) == 0 {
		if err := onToken(NoGroundingAnswer); err != nil {
			return fmt.Errorf("deliver answer: %w", err)
		}
		return nil
	}
	start := time.Now()
	if err := s.model.SynthesizeAnswerStream(ctx, req.Query, searchContext, onToken); err != nil {
		return fmt.Errorf("synthesize answer: %w", err)
	}
	s.stats.RecordTiming(metrics.OpLLMStream, time.Since(start))
	return nil
}

func (s *QueryService) retrieve(ctx context.Context, req QueryRequest) ([]models.RetrievedSource, string, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}

	topK := req.TopK
	if topK < 1 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	embedStart := time.Now()
	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}
	s.stats.RecordTiming(metrics.OpEmbedding, time.Since(embedStart))

	var docType, repoURL *string
	if req.DocType != "" {
		docType = &req.DocType
	}
	if req.RepoURL != "" {
		repoURL = &req.RepoURL
	}

	searchStart := time.Now()
	hits, err := s.search.QueryVectorSearch(ctx, embedding, topK, docType, repoURL)
	if err != nil {
		return nil, "", fmt.Errorf("vector search: %w", err)
	}
	s.stats.RecordTiming(metrics.OpVectorSearch, time.Since(searchStart))
	if len(hits) == 0 {
		s.log.Warn("no documents retrieved", "query", req.Query)
		return []models.RetrievedSource{}, "", nil
	}

	rankHits(hits)
	s.log.Debug("retrieval complete", "query", req.Query, "hits", len(hits), "top_score", hits[0].Score)

	sources := make([]models.RetrievedSource, len(hits))
	for i, h := range hits {
		sources[i] = models.RetrievedSource{
			DocumentID: h.DocID,
			Score:      h.Score,
			Location:   h.Location,
			Type:       models.DocumentType(h.DocType),
			RepoURL:    h.RepoURL,
			Excerpt:    excerpt(h.Content),
		}
	}
	return sources, buildSearchContext(hits), nil
}

// rankHits orders hits by descending score, breaking ties by document
// id so equal-score runs come back in the same order every time.
func rankHits(hits []db.ScoredDocument) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
}

// buildSearchContext formats retrieval hits into the context block the
// model answers from.
func buildSearchContext(hits []db.ScoredDocument) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s, %s)\n", i+1, h.Location, h.DocType, h.RepoName)
		b.WriteString(h.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= excerptMaxLen {
		return content
	}
	cut := content[:excerptMaxLen]
	if i := strings.LastIndexByte(cut, ' '); i > excerptMaxLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
