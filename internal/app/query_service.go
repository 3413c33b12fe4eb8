package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"investigraph/internal/ai"
	"investigraph/internal/config"
	"investigraph/internal/fuse"
	"investigraph/internal/graph"
	"investigraph/internal/metrics"
	"investigraph/internal/model"
	"investigraph/internal/vector"
)

// Stage outcome of one pipeline step. Degraded stages produce a partial
// answer; failed stages abort the query.
const (
	StageOK       = "ok"
	StageDegraded = "degraded"
	StageFailed   = "failed"
)

// StageResult reports how one pipeline stage went, for response diagnostics.
type StageResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// QueryInput is one question against a document or the user's whole corpus.
type QueryInput struct {
	UserID     uint
	DocumentID uint // 0 = every ready document
	Question   string
	TopN       int // 0 = configured default
}

// QueryResult carries the answer with full provenance: which chunks and
// facts built the context, and how each stage fared.
type QueryResult struct {
	TraceID   string        `json:"trace_id"`
	Answer    string        `json:"answer"`
	ChunkIDs  []uint        `json:"chunk_ids"`
	Facts     []string      `json:"facts"`
	Stages    []StageResult `json:"stages"`
	Degraded  bool          `json:"degraded"`
	Truncated bool          `json:"truncated"`
}

// QueryService orchestrates the answer pipeline: dense retrieval and graph
// lookup run in parallel, their results fuse into one bounded context, and
// the generator writes the answer against it.
type QueryService struct {
	docs      DocumentStore
	chunks    ChunkStore
	graphs    graph.Store
	index     vector.Index
	embedder  Embedder
	reranker  Reranker
	generator Generator
	extractor QueryEntityExtractor
	fuser     *fuse.Fuser
	m         *metrics.Metrics
	logger    *slog.Logger

	retr      config.RetrievalConfig
	embCfg    ai.EmbeddingConfig
	chatCfg   ai.ChatConfig
	rerankCfg ai.RerankConfig

	retryBase time.Duration
}

func NewQueryService(
	docs DocumentStore,
	chunks ChunkStore,
	graphs graph.Store,
	index vector.Index,
	embedder Embedder,
	reranker Reranker,
	generator Generator,
	extractor QueryEntityExtractor,
	retr config.RetrievalConfig,
	embCfg ai.EmbeddingConfig,
	chatCfg ai.ChatConfig,
	rerankCfg ai.RerankConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		docs:      docs,
		chunks:    chunks,
		graphs:    graphs,
		index:     index,
		embedder:  embedder,
		reranker:  reranker,
		generator: generator,
		extractor: extractor,
		fuser:     fuse.New(retr.ContextBudget, retr.GraphFactLimit),
		m:         m,
		logger:    logger,
		retr:      retr,
		embCfg:    embCfg,
		chatCfg:   chatCfg,
		rerankCfg: rerankCfg,
		retryBase: time.Second,
	}
}

const answerSystemPrompt = `You are an expert financial analyst. Answer the user's question using ONLY the provided context from financial documents and the known facts. If the context does not contain enough information to answer, say so plainly. Cite concrete figures from the context where relevant. Do not make up facts.`

// queryTrace accumulates stage outcomes; both pipeline branches write to it
// concurrently.
type queryTrace struct {
	traceID string

	mu       sync.Mutex
	stages   []StageResult
	degraded bool
}

// Answer runs the full query pipeline. Graph trouble degrades the answer to
// dense retrieval only; embedding, search, or generation trouble fails it.
func (s *QueryService) Answer(ctx context.Context, input QueryInput) (*QueryResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	if input.DocumentID != 0 {
		doc, err := s.docs.GetByIDAndUserID(input.DocumentID, input.UserID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, ErrDocumentNotFound
		}
		if !doc.Queryable() {
			return nil, ErrNotQueryable
		}
	} else {
		ids, err := s.docs.ListReadyIDsByUserID(input.UserID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrNoDocuments
		}
	}

	tr := &queryTrace{traceID: uuid.NewString()}
	start := time.Now()
	vscope := vector.Scope{UserID: input.UserID, DocumentID: input.DocumentID}
	gscope := graph.Scope{UserID: input.UserID, DocumentID: input.DocumentID}

	topN := input.TopN
	if topN <= 0 || topN > s.retr.TopN {
		topN = s.retr.TopN
	}

	var ranked []fuse.RankedChunk
	var facts []graph.Fact

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ranked, err = s.retrieve(gctx, tr, vscope, question, topN)
		return err
	})
	g.Go(func() error {
		facts = s.lookupGraph(gctx, tr, gscope, question)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.m.ObserveQuery("error", time.Since(start))
		s.logger.Error("query failed", "trace_id", tr.traceID, "error", err)
		return nil, err
	}

	if len(ranked) == 0 && len(facts) == 0 {
		s.m.ObserveQuery("error", time.Since(start))
		return nil, ErrNoContext
	}

	fused := s.fuser.Fuse(ranked, facts)

	answer, err := s.generate(ctx, tr, question, fused.Text)
	if err != nil {
		s.m.ObserveQuery("error", time.Since(start))
		s.logger.Error("query failed", "trace_id", tr.traceID, "error", err)
		return nil, err
	}

	res := &QueryResult{
		TraceID:   tr.traceID,
		Answer:    answer,
		ChunkIDs:  fused.ChunkIDs,
		Facts:     fused.FactLines,
		Stages:    tr.stages,
		Degraded:  tr.degraded,
		Truncated: fused.Truncated,
	}

	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
	}
	s.m.ObserveQuery(outcome, time.Since(start))
	s.logger.Info("query answered",
		"trace_id", res.TraceID,
		"chunks", len(res.ChunkIDs),
		"facts", len(res.Facts),
		"degraded", res.Degraded,
		"duration", time.Since(start))
	return res, nil
}

// retrieve embeds the question, shortlists by cosine similarity, and reranks
// with the cross encoder. Rerank trouble degrades to similarity order.
func (s *QueryService) retrieve(ctx context.Context, tr *queryTrace, scope vector.Scope, question string, topN int) ([]fuse.RankedChunk, error) {
	var queryVec []float32
	err := s.stage(ctx, tr, "embed", true, func(ctx context.Context) error {
		var err error
		queryVec, err = s.embedder.Embed(ctx, s.embCfg, question)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed question failed: %w", err)
	}

	var hits []vector.Result
	err = s.stage(ctx, tr, "search", true, func(ctx context.Context) error {
		var err error
		hits, err = s.index.Search(ctx, scope, queryVec, s.retr.ShortlistK)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	records, err := s.chunks.GetByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Chunk, len(records))
	for _, c := range records {
		byID[c.ID] = c
	}

	shortlist := make([]fuse.RankedChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ChunkID]
		if !ok {
			continue
		}
		shortlist = append(shortlist, fuse.RankedChunk{Chunk: c, Score: h.Score})
	}

	texts := make([]string, len(shortlist))
	for i := range shortlist {
		texts[i] = shortlist[i].Chunk.Content
	}
	var scores []float64
	rerr := s.stage(ctx, tr, "rerank", false, func(ctx context.Context) error {
		var err error
		scores, err = s.reranker.Rerank(ctx, s.rerankCfg, question, texts)
		if err != nil {
			return err
		}
		if len(scores) != len(shortlist) {
			return fmt.Errorf("rerank returned %d scores for %d candidates", len(scores), len(shortlist))
		}
		return nil
	})
	if rerr == nil {
		for i := range shortlist {
			shortlist[i].Score = scores[i]
		}
		// Stable keeps the deterministic similarity order on equal scores.
		sort.SliceStable(shortlist, func(i, j int) bool {
			return shortlist[i].Score > shortlist[j].Score
		})
	}

	if topN > 0 && len(shortlist) > topN {
		shortlist = shortlist[:topN]
	}
	return shortlist, nil
}

// lookupGraph extracts entity names from the question, resolves them, and
// walks their neighborhood. Any trouble degrades to an empty fact set.
func (s *QueryService) lookupGraph(ctx context.Context, tr *queryTrace, scope graph.Scope, question string) []graph.Fact {
	var facts []graph.Fact
	_ = s.stage(ctx, tr, "graph", false, func(ctx context.Context) error {
		names, err := s.extractor.ExtractQueryEntities(ctx, question)
		if err != nil {
			return err
		}
		var entityIDs []uint
		for _, name := range names {
			ents, err := s.graphs.LookupByName(ctx, scope, name)
			if err != nil {
				return err
			}
			for _, e := range ents {
				entityIDs = append(entityIDs, e.ID)
			}
		}
		if len(entityIDs) == 0 {
			return nil
		}
		facts, err = s.graphs.Neighborhood(ctx, scope, entityIDs, s.retr.GraphDepth)
		return err
	})
	return facts
}

func (s *QueryService) generate(ctx context.Context, tr *queryTrace, question, contextBlock string) (string, error) {
	messages := []ai.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: "Context:" + contextBlock + "\n\nQuestion: " + question + "\n\nAnswer:"},
	}

	attempts := s.retr.GenerateAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := s.retryBase
	var answer string
	err := s.stage(ctx, tr, "generate", true, func(ctx context.Context) error {
		var err error
		for attempt := 0; attempt < attempts; attempt++ {
			answer, err = s.generator.Complete(ctx, s.chatCfg, messages)
			if err == nil || !errors.Is(err, ai.ErrBackendUnavailable) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return strings.TrimSpace(answer), nil
}

// stage runs one pipeline step under the per-stage timeout and records its
// outcome. Non-fatal steps mark the result degraded instead of returning
// the error.
func (s *QueryService) stage(ctx context.Context, tr *queryTrace, name string, fatal bool, op func(ctx context.Context) error) error {
	if s.retr.StageTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.retr.StageTimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	err := op(ctx)
	sr := StageResult{Name: name, Status: StageOK, Duration: time.Since(start).Milliseconds()}
	if err != nil {
		sr.Error = err.Error()
		if fatal {
			sr.Status = StageFailed
		} else {
			sr.Status = StageDegraded
			s.m.StageDegraded(name)
			s.logger.Warn("query stage degraded", "trace_id", tr.traceID, "stage", name, "error", err)
		}
	}
	tr.mu.Lock()
	tr.stages = append(tr.stages, sr)
	if sr.Status == StageDegraded {
		tr.degraded = true
	}
	tr.mu.Unlock()
	return err
}
