package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investigraph/internal/ai"
	"investigraph/internal/config"
	"investigraph/internal/graph"
	"investigraph/internal/model"
	"investigraph/internal/vector"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		ChunkSize:           80,
		ChunkOverlap:        10,
		ShortlistK:          20,
		TopN:                5,
		ContextBudget:       6000,
		GraphDepth:          1,
		GraphFactLimit:      20,
		ExtractConcurrency:  2,
		StageTimeoutSeconds: 5,
		GenerateAttempts:    2,
	}
}

type ingestHarness struct {
	svc    *IngestService
	docs   *fakeDocs
	chunks *fakeChunks
	graphs *graph.MemoryStore
	index  *vector.MemoryIndex
	model  *fakeModel
	lease  *fakeLease
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()
	h := &ingestHarness{
		docs:   newFakeDocs(),
		chunks: newFakeChunks(),
		graphs: graph.NewMemoryStore(),
		index:  vector.NewMemoryIndex(),
		model:  &fakeModel{},
		lease:  newFakeLease(),
	}
	h.svc = NewIngestService(
		h.docs, h.chunks, h.graphs, h.index,
		h.model, &fakeChunkExtractor{}, nil, h.lease,
		testRetrievalConfig(), ai.EmbeddingConfig{}, nil, nil,
	)
	h.svc.retryBase = time.Millisecond
	return h
}

func (h *ingestHarness) createDoc(t *testing.T, content string) *model.Document {
	t.Helper()
	doc := &model.Document{UserID: 1, Name: "report", Kind: model.KindPlain, RawText: content, Status: model.StatusReceived}
	require.NoError(t, h.docs.Create(doc))
	return doc
}

func TestProcessHappyPath(t *testing.T) {
	h := newIngestHarness(t)
	doc := h.createDoc(t, strings.Repeat("Revenue grew strongly this year. ", 10))

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))

	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))
	count, _ := h.chunks.CountByDocumentID(doc.ID)
	assert.Greater(t, count, int64(1))

	// Every chunk got a vector.
	hits, err := h.index.Search(context.Background(),
		vector.Scope{UserID: 1, DocumentID: doc.ID}, testVector("Revenue"), int(count))
	require.NoError(t, err)
	assert.Len(t, hits, int(count))
}

func TestProcessEmptyDocumentIsReady(t *testing.T) {
	h := newIngestHarness(t)
	doc := h.createDoc(t, "   \n\t  ")

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))

	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))
	count, _ := h.chunks.CountByDocumentID(doc.ID)
	assert.Zero(t, count)
	assert.Zero(t, h.model.embedCalls)
}

func TestProcessIdempotentRerun(t *testing.T) {
	h := newIngestHarness(t)
	h.svc.extractor = &fakeChunkExtractor{fn: func(chunkID uint, _ string) (graph.Extraction, error) {
		return graph.Extraction{
			ChunkID:  chunkID,
			Entities: []graph.ExtractedEntity{{Name: "Acme Corp", Type: "ORGANIZATION"}},
		}, nil
	}}
	doc := h.createDoc(t, strings.Repeat("Acme Corp filed its annual report. ", 8))

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))
	first, _ := h.chunks.CountByDocumentID(doc.ID)

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))
	second, _ := h.chunks.CountByDocumentID(doc.ID)

	assert.Equal(t, first, second)
	view, err := h.graphs.DocumentGraph(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	assert.Len(t, view.Nodes, 1)
}

func TestProcessEmbedFailureParksFailed(t *testing.T) {
	h := newIngestHarness(t)
	h.model.embedBatchFn = func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("embed request failed: %w", ai.ErrBackendUnavailable)
	}
	doc := h.createDoc(t, strings.Repeat("some text to chunk and embed. ", 5))

	err := h.svc.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrBackendUnavailable)

	got, _ := h.docs.GetByID(doc.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "embed")
}

func TestProcessRetriesTransientEmbedFailure(t *testing.T) {
	h := newIngestHarness(t)
	calls := 0
	h.model.embedBatchFn = func(texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("status 503: %w", ai.ErrBackendUnavailable)
		}
		out := make([][]float32, len(texts))
		for i, txt := range texts {
			out[i] = testVector(txt)
		}
		return out, nil
	}
	doc := h.createDoc(t, "short document body")

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))
	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))
	assert.Equal(t, 2, calls)
}

func TestEmbedChunksToleratesBlankChunk(t *testing.T) {
	h := newIngestHarness(t)
	// Mirror the real client's contract: blank texts keep their slot with a
	// nil vector, so the batch stays aligned with its inputs.
	h.model.embedBatchFn = func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, txt := range texts {
			if strings.TrimSpace(txt) != "" {
				out[i] = testVector(txt)
			}
		}
		return out, nil
	}
	doc := h.createDoc(t, "seed")
	records := []model.Chunk{
		{ID: 1, DocumentID: doc.ID, Ordinal: 0, Content: "Sales held steady across segments."},
		{ID: 2, DocumentID: doc.ID, Ordinal: 1, Content: "   \n\t "},
	}

	require.NoError(t, h.svc.embedChunks(context.Background(), doc, records))

	// Only the non-blank chunk is indexed.
	hits, err := h.index.Search(context.Background(),
		vector.Scope{UserID: doc.UserID, DocumentID: doc.ID}, testVector("Sales"), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint(1), hits[0].ChunkID)
}

func TestProcessToleratesMalformedExtraction(t *testing.T) {
	h := newIngestHarness(t)
	h.svc.extractor = &fakeChunkExtractor{fn: func(chunkID uint, _ string) (graph.Extraction, error) {
		if chunkID%2 == 0 {
			return graph.Extraction{}, fmt.Errorf("%w: not json", graph.ErrMalformedExtraction)
		}
		return graph.Extraction{
			ChunkID:  chunkID,
			Entities: []graph.ExtractedEntity{{Name: "Acme Corp", Type: "ORGANIZATION"}},
		}, nil
	}}
	doc := h.createDoc(t, strings.Repeat("Acme Corp results discussion. ", 10))

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))
	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))
}

func TestProcessToleratesExtractionBackendOutage(t *testing.T) {
	h := newIngestHarness(t)
	h.svc.extractor = &fakeChunkExtractor{fn: func(chunkID uint, _ string) (graph.Extraction, error) {
		if chunkID == 1 {
			return graph.Extraction{}, ai.ErrBackendUnavailable
		}
		return graph.Extraction{
			ChunkID:  chunkID,
			Entities: []graph.ExtractedEntity{{Name: "Acme Corp", Type: "ORGANIZATION"}},
		}, nil
	}}
	doc := h.createDoc(t, strings.Repeat("Acme Corp results discussion. ", 10))

	// The chunk whose extraction backend never recovers loses its graph
	// contribution; its text and embedding still make the document ready.
	require.NoError(t, h.svc.Process(context.Background(), doc.ID))
	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))

	ents, err := h.svc.graphs.LookupByName(context.Background(),
		graph.Scope{UserID: doc.UserID, DocumentID: doc.ID}, "acme")
	require.NoError(t, err)
	require.Len(t, ents, 1)
}

func TestProcessLeaseHeld(t *testing.T) {
	h := newIngestHarness(t)
	doc := h.createDoc(t, "body")
	h.lease.held[doc.ID] = true

	err := h.svc.Process(context.Background(), doc.ID)
	assert.ErrorIs(t, err, ErrIngestInProgress)
	assert.Equal(t, model.StatusReceived, h.docs.status(doc.ID))
}

func TestProcessUnknownDocument(t *testing.T) {
	h := newIngestHarness(t)
	assert.ErrorIs(t, h.svc.Process(context.Background(), 42), ErrDocumentNotFound)
}

func TestCreateValidatesInput(t *testing.T) {
	h := newIngestHarness(t)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: 0, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.Create(context.Background(), CreateInput{UserID: 1, Kind: "spreadsheet", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreatePublishesTask(t *testing.T) {
	h := newIngestHarness(t)
	pub := &fakePublisher{}
	h.svc.publisher = pub

	doc, err := h.svc.Create(context.Background(), CreateInput{UserID: 1, Name: "r", Content: "text"})
	require.NoError(t, err)
	require.Len(t, pub.tasks, 1)
	assert.Equal(t, doc.ID, pub.tasks[0].DocumentID)
	assert.Equal(t, model.StatusReceived, doc.Status)
}

func TestReprocessChecksOwnership(t *testing.T) {
	h := newIngestHarness(t)
	pub := &fakePublisher{}
	h.svc.publisher = pub
	doc := h.createDoc(t, "body text here")
	require.NoError(t, h.docs.UpdateStatus(doc.ID, model.StatusFailed, "boom"))

	err := h.svc.Reprocess(context.Background(), 2, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Empty(t, pub.tasks)

	require.NoError(t, h.svc.Reprocess(context.Background(), 1, doc.ID))
	require.Len(t, pub.tasks, 1)
	assert.Equal(t, doc.ID, pub.tasks[0].DocumentID)
	// Back at the start of the state machine until the worker picks it up.
	assert.Equal(t, model.StatusReceived, h.docs.status(doc.ID))
}

func TestReprocessRejectedWhileRunActive(t *testing.T) {
	h := newIngestHarness(t)
	pub := &fakePublisher{}
	h.svc.publisher = pub
	doc := h.createDoc(t, "body text here")
	require.NoError(t, h.docs.UpdateStatus(doc.ID, model.StatusReady, ""))
	h.lease.held[doc.ID] = true

	err := h.svc.Reprocess(context.Background(), 1, doc.ID)
	assert.ErrorIs(t, err, ErrIngestInProgress)
	// The active run keeps sole ownership of the document's status and no
	// task is queued that the worker would only drop.
	assert.Empty(t, pub.tasks)
	assert.Equal(t, model.StatusReady, h.docs.status(doc.ID))
}

func TestDeleteRemovesArtifacts(t *testing.T) {
	h := newIngestHarness(t)
	h.svc.extractor = &fakeChunkExtractor{fn: func(chunkID uint, _ string) (graph.Extraction, error) {
		return graph.Extraction{
			ChunkID:  chunkID,
			Entities: []graph.ExtractedEntity{{Name: "Acme Corp", Type: "ORGANIZATION"}},
		}, nil
	}}
	doc := h.createDoc(t, "Acme Corp annual report body")
	require.NoError(t, h.svc.Process(context.Background(), doc.ID))

	require.NoError(t, h.svc.Delete(context.Background(), 1, doc.ID))

	got, _ := h.docs.GetByID(doc.ID)
	assert.Nil(t, got)
	count, _ := h.chunks.CountByDocumentID(doc.ID)
	assert.Zero(t, count)
	view, err := h.graphs.DocumentGraph(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Nodes)
}

func TestFilingDocumentIsCleaned(t *testing.T) {
	h := newIngestHarness(t)
	doc := &model.Document{
		UserID:  1,
		Name:    "10-K",
		Kind:    model.KindFiling,
		RawText: "<DOCUMENT><TYPE>10-K\n<TEXT><p>Net revenue increased fifteen percent.</p></TEXT></DOCUMENT>",
		Status:  model.StatusReceived,
	}
	require.NoError(t, h.docs.Create(doc))

	require.NoError(t, h.svc.Process(context.Background(), doc.ID))

	got, _ := h.docs.GetByID(doc.ID)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.NotContains(t, got.CleanText, "<p>")
	assert.Contains(t, got.CleanText, "Net revenue increased")
}
