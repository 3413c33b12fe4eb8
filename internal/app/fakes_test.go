package app

import (
	"context"
	"sort"
	"sync"

	"investigraph/internal/ai"
	"investigraph/internal/graph"
	"investigraph/internal/model"
)

type fakeDocs struct {
	mu   sync.Mutex
	seq  uint
	docs map[uint]*model.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[uint]*model.Document)}
}

func (f *fakeDocs) Create(doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	doc.ID = f.seq
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) GetByID(id uint) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocs) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	doc, _ := f.GetByID(id)
	if doc == nil || doc.UserID != userID {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeDocs) ListByUserID(userID uint) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, doc := range f.docs {
		if doc.UserID == userID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDocs) ListReadyIDsByUserID(userID uint) ([]uint, error) {
	docs, _ := f.ListByUserID(userID)
	var ids []uint
	for _, doc := range docs {
		if doc.Status == model.StatusReady {
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

func (f *fakeDocs) UpdateStatus(id uint, status, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.LastError = lastError
	}
	return nil
}

func (f *fakeDocs) UpdateCleanText(id uint, cleanText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.CleanText = cleanText
	}
	return nil
}

func (f *fakeDocs) DeleteByIDAndUserID(id, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok && doc.UserID == userID {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeDocs) status(id uint) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		return doc.Status
	}
	return ""
}

type fakeChunks struct {
	mu     sync.Mutex
	seq    uint
	chunks map[uint]model.Chunk
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{chunks: make(map[uint]model.Chunk)}
}

func (f *fakeChunks) CreateBatch(chunks []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range chunks {
		f.seq++
		chunks[i].ID = f.seq
		f.chunks[chunks[i].ID] = chunks[i]
	}
	return nil
}

func (f *fakeChunks) GetByIDs(ids []uint) ([]model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) CountByDocumentID(documentID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeChunks) DeleteByDocumentID(documentID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.chunks {
		if c.DocumentID == documentID {
			delete(f.chunks, id)
		}
	}
	return nil
}

// fakeModel stands in for the OpenAI-compatible client. Function fields
// override the defaults per test.
type fakeModel struct {
	mu           sync.Mutex
	embedCalls   int
	embedFn      func(text string) ([]float32, error)
	embedBatchFn func(texts []string) ([][]float32, error)
	completeFn   func(messages []ai.ChatMessage) (string, error)
	rerankFn     func(query string, documents []string) ([]float64, error)
}

func (f *fakeModel) Embed(_ context.Context, _ ai.EmbeddingConfig, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return testVector(text), nil
}

func (f *fakeModel) EmbedBatch(_ context.Context, _ ai.EmbeddingConfig, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedBatchFn != nil {
		return f.embedBatchFn(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = testVector(t)
	}
	return out, nil
}

func (f *fakeModel) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	if f.completeFn != nil {
		return f.completeFn(messages)
	}
	return "generated answer", nil
}

func (f *fakeModel) Rerank(_ context.Context, _ ai.RerankConfig, query string, documents []string) ([]float64, error) {
	if f.rerankFn != nil {
		return f.rerankFn(query, documents)
	}
	scores := make([]float64, len(documents))
	for i := range documents {
		scores[i] = float64(len(documents) - i)
	}
	return scores, nil
}

// testVector derives a deterministic unit-ish embedding from the text.
func testVector(text string) []float32 {
	var a, b float32
	for i, r := range text {
		if i%2 == 0 {
			a += float32(r % 13)
		} else {
			b += float32(r % 7)
		}
	}
	return []float32{a + 1, b + 1, 1}
}

type fakeChunkExtractor struct {
	fn func(chunkID uint, text string) (graph.Extraction, error)
}

func (f *fakeChunkExtractor) ExtractChunk(_ context.Context, chunkID uint, text string) (graph.Extraction, error) {
	if f.fn != nil {
		return f.fn(chunkID, text)
	}
	return graph.Extraction{ChunkID: chunkID}, nil
}

type fakeEntityExtractor struct {
	names []string
	err   error
}

func (f *fakeEntityExtractor) ExtractQueryEntities(context.Context, string) ([]string, error) {
	return f.names, f.err
}

type fakeLease struct {
	mu   sync.Mutex
	held map[uint]bool
	deny bool
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: make(map[uint]bool)}
}

func (f *fakeLease) Acquire(_ context.Context, documentID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny || f.held[documentID] {
		return false, nil
	}
	f.held[documentID] = true
	return true, nil
}

func (f *fakeLease) Held(_ context.Context, documentID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[documentID], nil
}

func (f *fakeLease) Release(_ context.Context, documentID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, documentID)
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	tasks []IngestTask
	err   error
}

func (f *fakePublisher) PublishIngest(_ context.Context, task IngestTask) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	return nil
}
