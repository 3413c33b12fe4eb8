package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"investigraph/internal/model"
)

type entityKey struct {
	userID uint
	docID  uint
	norm   string
	typ    string
}

type relKey struct {
	src uint
	dst uint
	typ string
}

// MemoryStore is an in-memory Store with the same merge semantics as the
// MySQL-backed one. Used by tests and available as a backend for single-node
// deployments without a database.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   uint
	entities map[uint]*model.Entity
	byKey    map[entityKey]uint
	rels     map[relKey]*model.Relationship
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[uint]*model.Entity),
		byKey:    make(map[entityKey]uint),
		rels:     make(map[relKey]*model.Relationship),
	}
}

func (s *MemoryStore) Merge(_ context.Context, userID, documentID uint, ext Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Entity name -> type within this extraction, for resolving edge ends.
	types := make(map[string]string, len(ext.Entities))

	for _, raw := range ext.Entities {
		norm := NormalizeName(raw.Name)
		types[norm] = raw.Type
		key := entityKey{userID: userID, docID: documentID, norm: norm, typ: raw.Type}
		if id, ok := s.byKey[key]; ok {
			ent := s.entities[id]
			ent.ChunkRefs = model.MergeChunkRefs(ent.ChunkRefs, []uint{ext.ChunkID})
			continue
		}
		s.nextID++
		ent := &model.Entity{
			ID:         s.nextID,
			UserID:     userID,
			DocumentID: documentID,
			Name:       raw.Name,
			NormName:   norm,
			Type:       raw.Type,
			ChunkRefs:  model.MergeChunkRefs("", []uint{ext.ChunkID}),
		}
		s.entities[ent.ID] = ent
		s.byKey[key] = ent.ID
	}

	for _, raw := range ext.Relationships {
		srcNorm := NormalizeName(raw.Source)
		dstNorm := NormalizeName(raw.Target)
		srcID, okSrc := s.byKey[entityKey{userID: userID, docID: documentID, norm: srcNorm, typ: types[srcNorm]}]
		dstID, okDst := s.byKey[entityKey{userID: userID, docID: documentID, norm: dstNorm, typ: types[dstNorm]}]
		if !okSrc || !okDst {
			continue
		}
		key := relKey{src: srcID, dst: dstID, typ: raw.Type}
		if rel, ok := s.rels[key]; ok {
			rel.ChunkRefs = model.MergeChunkRefs(rel.ChunkRefs, []uint{ext.ChunkID})
			rel.Attributes = model.MergeAttributes(rel.Attributes, raw.Attributes)
			continue
		}
		s.nextID++
		s.rels[key] = &model.Relationship{
			ID:             s.nextID,
			UserID:         userID,
			DocumentID:     documentID,
			SourceEntityID: srcID,
			TargetEntityID: dstID,
			Type:           raw.Type,
			Attributes:     model.MergeAttributes("", raw.Attributes),
			ChunkRefs:      model.MergeChunkRefs("", []uint{ext.ChunkID}),
		}
	}
	return nil
}

func (s *MemoryStore) LookupByName(_ context.Context, scope Scope, name string) ([]model.Entity, error) {
	needle := NormalizeName(name)
	if needle == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Entity
	for _, ent := range s.entities {
		if !s.inScope(ent.UserID, ent.DocumentID, scope) {
			continue
		}
		if strings.Contains(ent.NormName, needle) {
			out = append(out, *ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Neighborhood(_ context.Context, scope Scope, entityIDs []uint, depth int) ([]Fact, error) {
	if depth <= 0 {
		depth = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	frontier := make(map[uint]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		if ent, ok := s.entities[id]; ok && s.inScope(ent.UserID, ent.DocumentID, scope) {
			frontier[id] = struct{}{}
		}
	}

	seen := make(map[relKey]struct{})
	var facts []Fact
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make(map[uint]struct{})
		for key, rel := range s.rels {
			if !s.inScope(rel.UserID, rel.DocumentID, scope) {
				continue
			}
			_, fromSrc := frontier[rel.SourceEntityID]
			_, fromDst := frontier[rel.TargetEntityID]
			if !fromSrc && !fromDst {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			facts = append(facts, Fact{
				Source:   *s.entities[rel.SourceEntityID],
				Relation: *rel,
				Target:   *s.entities[rel.TargetEntityID],
			})
			next[rel.SourceEntityID] = struct{}{}
			next[rel.TargetEntityID] = struct{}{}
		}
		frontier = next
	}

	sort.Slice(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if a.Source.ID != b.Source.ID {
			return a.Source.ID < b.Source.ID
		}
		if a.Target.ID != b.Target.ID {
			return a.Target.ID < b.Target.ID
		}
		return a.Relation.Type < b.Relation.Type
	})
	return facts, nil
}

func (s *MemoryStore) DocumentGraph(_ context.Context, userID, documentID uint) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &View{}
	for _, ent := range s.entities {
		if ent.UserID == userID && ent.DocumentID == documentID {
			view.Nodes = append(view.Nodes, Node{ID: ent.ID, Label: ent.Name, Type: ent.Type})
		}
	}
	for _, rel := range s.rels {
		if rel.UserID == userID && rel.DocumentID == documentID {
			view.Edges = append(view.Edges, Edge{Source: rel.SourceEntityID, Target: rel.TargetEntityID, Relation: rel.Type})
		}
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	sort.Slice(view.Edges, func(i, j int) bool {
		a, b := view.Edges[i], view.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Relation < b.Relation
	})
	return view, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, userID, documentID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rel := range s.rels {
		if rel.UserID == userID && rel.DocumentID == documentID {
			delete(s.rels, key)
		}
	}
	for id, ent := range s.entities {
		if ent.UserID == userID && ent.DocumentID == documentID {
			delete(s.entities, id)
			delete(s.byKey, entityKey{userID: userID, docID: documentID, norm: ent.NormName, typ: ent.Type})
		}
	}
	return nil
}

func (s *MemoryStore) inScope(userID, documentID uint, scope Scope) bool {
	if userID != scope.UserID {
		return false
	}
	return scope.DocumentID == 0 || documentID == scope.DocumentID
}
