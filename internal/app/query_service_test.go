package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investigraph/internal/ai"
	"investigraph/internal/graph"
	"investigraph/internal/model"
	"investigraph/internal/vector"
)

type queryHarness struct {
	svc      *QueryService
	docs     *fakeDocs
	chunks   *fakeChunks
	graphs   *graph.MemoryStore
	index    *vector.MemoryIndex
	model    *fakeModel
	entities *fakeEntityExtractor
}

func newQueryHarness(t *testing.T) *queryHarness {
	t.Helper()
	h := &queryHarness{
		docs:     newFakeDocs(),
		chunks:   newFakeChunks(),
		graphs:   graph.NewMemoryStore(),
		index:    vector.NewMemoryIndex(),
		model:    &fakeModel{},
		entities: &fakeEntityExtractor{},
	}
	h.svc = NewQueryService(
		h.docs, h.chunks, h.graphs, h.index,
		h.model, h.model, h.model, h.entities,
		testRetrievalConfig(), ai.EmbeddingConfig{}, ai.ChatConfig{}, ai.RerankConfig{},
		nil, nil,
	)
	h.svc.retryBase = time.Millisecond
	return h
}

// seedReadyDoc stores a ready document with the given chunk contents and
// their vectors.
func (h *queryHarness) seedReadyDoc(t *testing.T, userID uint, contents ...string) (uint, []uint) {
	t.Helper()
	doc := &model.Document{UserID: userID, Name: "report", Kind: model.KindPlain, Status: model.StatusReady}
	require.NoError(t, h.docs.Create(doc))

	records := make([]model.Chunk, len(contents))
	for i, c := range contents {
		records[i] = model.Chunk{DocumentID: doc.ID, Ordinal: i, Content: c}
	}
	require.NoError(t, h.chunks.CreateBatch(records))

	scope := vector.Scope{UserID: userID, DocumentID: doc.ID}
	ids := make([]uint, len(records))
	for i := range records {
		ids[i] = records[i].ID
		require.NoError(t, h.index.Upsert(context.Background(), scope, records[i].ID, testVector(records[i].Content)))
	}
	return doc.ID, ids
}

func stageStatus(stages []StageResult, name string) string {
	for _, s := range stages {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}

func TestAnswerHappyPath(t *testing.T) {
	h := newQueryHarness(t)
	docID, chunkIDs := h.seedReadyDoc(t, 1,
		"Acme Corp is a manufacturer of industrial equipment.",
		"Jane Doe has served as chief executive since 2020.",
		"Revenue grew 12% to $4.2 billion.",
	)
	require.NoError(t, h.graphs.Merge(context.Background(), 1, docID, graph.Extraction{
		ChunkID: chunkIDs[1],
		Entities: []graph.ExtractedEntity{
			{Name: "Acme Corp", Type: "ORGANIZATION"},
			{Name: "Jane Doe", Type: "PERSON"},
		},
		Relationships: []graph.ExtractedRelationship{
			{Source: "Jane Doe", Target: "Acme Corp", Type: "CEO_OF"},
		},
	}))
	h.entities.names = []string{"Acme Corp"}

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "Who runs Acme Corp?",
	})
	require.NoError(t, err)

	assert.Equal(t, "generated answer", res.Answer)
	assert.NotEmpty(t, res.TraceID)
	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.ChunkIDs)
	require.NotEmpty(t, res.Facts)
	assert.Equal(t, "Jane Doe --[CEO_OF]--> Acme Corp", res.Facts[0])
	for _, name := range []string{"embed", "search", "rerank", "graph", "generate"} {
		assert.Equal(t, StageOK, stageStatus(res.Stages, name), name)
	}
}

func TestAnswerCallerTopN(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "alpha section", "beta section", "gamma section")

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "what are the sections?", TopN: 1,
	})
	require.NoError(t, err)
	assert.Len(t, res.ChunkIDs, 1)

	// A request above the configured ceiling is clamped to it.
	res, err = h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "what are the sections?", TopN: 100,
	})
	require.NoError(t, err)
	assert.Len(t, res.ChunkIDs, 3)
}

func TestAnswerRerankOrdersChunks(t *testing.T) {
	h := newQueryHarness(t)
	docID, chunkIDs := h.seedReadyDoc(t, 1, "first chunk", "second chunk", "third chunk")

	// Score the last shortlist entry highest.
	h.model.rerankFn = func(_ string, documents []string) ([]float64, error) {
		scores := make([]float64, len(documents))
		for i := range documents {
			scores[i] = float64(i)
		}
		return scores, nil
	}

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "anything",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ChunkIDs)
	assert.Contains(t, chunkIDs, res.ChunkIDs[0])
	assert.NotEqual(t, res.ChunkIDs[0], firstByVector(t, h, docID, "anything", chunkIDs))
}

// firstByVector returns the chunk the vector index alone would rank first.
func firstByVector(t *testing.T, h *queryHarness, docID uint, question string, _ []uint) uint {
	t.Helper()
	hits, err := h.index.Search(context.Background(),
		vector.Scope{UserID: 1, DocumentID: docID}, testVector(question), 1)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	return hits[0].ChunkID
}

func TestAnswerRerankFailureDegrades(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "only chunk of the report")
	h.model.rerankFn = func(string, []string) ([]float64, error) {
		return nil, errors.New("rerank endpoint down")
	}

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "what does the report say?",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, StageDegraded, stageStatus(res.Stages, "rerank"))
	assert.Equal(t, "generated answer", res.Answer)
	assert.NotEmpty(t, res.ChunkIDs)
}

func TestAnswerRerankScoreCountMismatchDegrades(t *testing.T) {
	h := newQueryHarness(t)
	docID, chunkIDs := h.seedReadyDoc(t, 1, "first chunk", "second chunk")

	// One score short of the shortlist.
	h.model.rerankFn = func(_ string, documents []string) ([]float64, error) {
		return make([]float64, len(documents)-1), nil
	}

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "what does the report say?",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, StageDegraded, stageStatus(res.Stages, "rerank"))
	// Similarity order survives when the rerank scores are unusable.
	require.NotEmpty(t, res.ChunkIDs)
	assert.Equal(t, firstByVector(t, h, docID, "what does the report say?", chunkIDs), res.ChunkIDs[0])
}

func TestAnswerGraphFailureDegrades(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "only chunk of the report")
	h.entities.err = errors.New("extraction endpoint down")

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "what does the report say?",
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, StageDegraded, stageStatus(res.Stages, "graph"))
	assert.Empty(t, res.Facts)
	assert.Equal(t, "generated answer", res.Answer)
}

func TestAnswerEmbedFailureIsFatal(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "only chunk")
	h.model.embedFn = func(string) ([]float32, error) {
		return nil, fmt.Errorf("status 500: %w", ai.ErrBackendUnavailable)
	}

	_, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "q",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrBackendUnavailable)
}

func TestAnswerGenerationRetriesThenFails(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "only chunk")
	calls := 0
	h.model.completeFn = func([]ai.ChatMessage) (string, error) {
		calls++
		return "", fmt.Errorf("status 429: %w", ai.ErrBackendUnavailable)
	}

	_, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "q",
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, testRetrievalConfig().GenerateAttempts, calls)
}

func TestAnswerGenerationRecovers(t *testing.T) {
	h := newQueryHarness(t)
	docID, _ := h.seedReadyDoc(t, 1, "only chunk")
	calls := 0
	h.model.completeFn = func([]ai.ChatMessage) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("status 503: %w", ai.ErrBackendUnavailable)
		}
		return "recovered answer", nil
	}

	res, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: docID, Question: "q",
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered answer", res.Answer)
}

func TestAnswerValidation(t *testing.T) {
	h := newQueryHarness(t)

	_, err := h.svc.Answer(context.Background(), QueryInput{UserID: 0, Question: "q"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.Answer(context.Background(), QueryInput{UserID: 1, Question: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnswerDocumentGating(t *testing.T) {
	h := newQueryHarness(t)

	_, err := h.svc.Answer(context.Background(), QueryInput{UserID: 1, DocumentID: 9, Question: "q"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	doc := &model.Document{UserID: 1, Name: "pending", Status: model.StatusEmbedding}
	require.NoError(t, h.docs.Create(doc))
	_, err = h.svc.Answer(context.Background(), QueryInput{UserID: 1, DocumentID: doc.ID, Question: "q"})
	assert.ErrorIs(t, err, ErrNotQueryable)

	// Corpus query with nothing ready.
	_, err = h.svc.Answer(context.Background(), QueryInput{UserID: 1, Question: "q"})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestAnswerNoContext(t *testing.T) {
	h := newQueryHarness(t)
	doc := &model.Document{UserID: 1, Name: "empty", Status: model.StatusReady}
	require.NoError(t, h.docs.Create(doc))

	_, err := h.svc.Answer(context.Background(), QueryInput{
		UserID: 1, DocumentID: doc.ID, Question: "q",
	})
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestAnswerCorpusScope(t *testing.T) {
	h := newQueryHarness(t)
	h.seedReadyDoc(t, 1, "alpha document body")
	h.seedReadyDoc(t, 1, "beta document body")
	h.seedReadyDoc(t, 2, "other user's document")

	res, err := h.svc.Answer(context.Background(), QueryInput{UserID: 1, Question: "bodies?"})
	require.NoError(t, err)
	assert.Len(t, res.ChunkIDs, 2)
}
