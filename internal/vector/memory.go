package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryEntry struct {
	scope   Scope
	chunkID uint
	vec     []float32
}

// MemoryIndex is a brute-force in-memory Index. Entries keep insertion order,
// which doubles as the deterministic tie-break order.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
	byChunk map[uint]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byChunk: make(map[uint]int)}
}

func (m *MemoryIndex) Upsert(_ context.Context, scope Scope, chunkID uint, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("upsert chunk %d: empty vector", chunkID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	if i, ok := m.byChunk[chunkID]; ok {
		m.entries[i] = memoryEntry{scope: scope, chunkID: chunkID, vec: cp}
		return nil
	}
	m.byChunk[chunkID] = len(m.entries)
	m.entries = append(m.entries, memoryEntry{scope: scope, chunkID: chunkID, vec: cp})
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, scope Scope, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Result, 0, len(m.entries))
	for _, e := range m.entries {
		if e.scope.UserID != scope.UserID {
			continue
		}
		if scope.DocumentID != 0 && e.scope.DocumentID != scope.DocumentID {
			continue
		}
		results = append(results, Result{ChunkID: e.chunkID, Score: Cosine(query, e.vec)})
	}
	// Stable sort keeps insertion order on ties.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// DeleteDocument removes all entries owned by the document.
func (m *MemoryIndex) DeleteDocument(userID, documentID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.scope.UserID == userID && e.scope.DocumentID == documentID {
			delete(m.byChunk, e.chunkID)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	for i, e := range m.entries {
		m.byChunk[e.chunkID] = i
	}
}
