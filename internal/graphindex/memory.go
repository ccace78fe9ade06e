package graphindex

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// Memory is an in-process graph store for tests and local runs
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]domain.Entity
	relations map[string]domain.Relation
	relOrder  []string
	chunks    map[string]ChunkMeta
	mentions  map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[string]domain.Entity),
		relations: make(map[string]domain.Relation),
		chunks:    make(map[string]ChunkMeta),
		mentions:  make(map[string][]string),
	}
}

func (m *Memory) Available() bool                        { return true }
func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }
func (m *Memory) Close(ctx context.Context) error        { return nil }

func (m *Memory) UpsertEntities(ctx context.Context, entities []domain.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		if e.VID == "" {
			continue
		}
		m.entities[e.VID] = e
	}
	return nil
}

func (m *Memory) UpsertRelations(ctx context.Context, relations []domain.Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range relations {
		if r.SrcVID == "" || r.DstVID == "" {
			continue
		}
		key := r.Key()
		if _, ok := m.relations[key]; !ok {
			m.relOrder = append(m.relOrder, key)
		}
		m.relations[key] = r
	}
	return nil
}

func (m *Memory) UpsertChunkLink(ctx context.Context, chunkID string, entityVIDs []string, meta ChunkMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunkID] = meta
	existing := make(map[string]bool)
	for _, vid := range m.mentions[chunkID] {
		existing[vid] = true
	}
	for _, vid := range entityVIDs {
		if vid == "" || existing[vid] {
			continue
		}
		existing[vid] = true
		m.mentions[chunkID] = append(m.mentions[chunkID], vid)
	}
	return nil
}

func (m *Memory) RetrieveSubgraph(ctx context.Context, entityNames []string, depth int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	frontier := entityVIDs(entityNames)
	reached := make(map[string]bool, len(frontier))
	for _, vid := range frontier {
		reached[vid] = true
	}
	taken := make(map[string]bool)
	var out []Triplet
	for hop := 0; hop < clampDepth(depth) && len(frontier) > 0; hop++ {
		set := make(map[string]bool, len(frontier))
		for _, vid := range frontier {
			set[vid] = true
		}
		var next []string
		for _, key := range m.relOrder {
			r := m.relations[key]
			if taken[key] || (!set[r.SrcVID] && !set[r.DstVID]) {
				continue
			}
			taken[key] = true
			out = append(out, Triplet{Src: m.entities[r.SrcVID].Name, Label: r.Description, Dst: m.entities[r.DstVID].Name})
			for _, vid := range []string{r.SrcVID, r.DstVID} {
				if !reached[vid] {
					reached[vid] = true
					next = append(next, vid)
				}
			}
		}
		frontier = next
	}
	return FormatTriplets(out), nil
}

func (m *Memory) EntityNeighborhood(ctx context.Context, entityName string) (string, error) {
	vid := domain.EntityVID(entityName)
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[vid]
	if !ok {
		return "", nil
	}
	facts := m.triplets([]string{vid})
	if len(facts) > MaxNeighborhoodResults {
		facts = facts[:MaxNeighborhoodResults]
	}
	return FormatNeighborhood(e, facts), nil
}

func (m *Memory) ChunkScores(ctx context.Context, entityNames []string, kbIDs []string) (map[string]float64, error) {
	wanted := make(map[string]bool)
	for _, vid := range entityVIDs(entityNames) {
		wanted[vid] = true
	}
	kbs := make(map[string]bool, len(kbIDs))
	for _, kb := range kbIDs {
		kbs[kb] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make(map[string]float64)
	for chunkID, vids := range m.mentions {
		if len(kbs) > 0 && !kbs[m.chunks[chunkID].KBID] {
			continue
		}
		for _, vid := range vids {
			if wanted[vid] {
				scores[chunkID]++
			}
		}
	}
	return scores, nil
}

func (m *Memory) SearchEntities(ctx context.Context, name string, limit int) ([]domain.Entity, error) {
	needle := domain.NormalizeEntityName(name)
	if needle == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Entity
	for _, e := range m.entities {
		if strings.Contains(domain.NormalizeEntityName(e.Name), needle) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Subgraph(ctx context.Context, entityNames []string) (*domain.Subgraph, error) {
	vids := entityVIDs(entityNames)
	set := make(map[string]bool, len(vids))
	for _, v := range vids {
		set[v] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sg := &domain.Subgraph{}
	nodes := make(map[string]bool)
	for _, key := range m.relOrder {
		r := m.relations[key]
		if !set[r.SrcVID] && !set[r.DstVID] {
			continue
		}
		sg.Edges = append(sg.Edges, r)
		nodes[r.SrcVID] = true
		nodes[r.DstVID] = true
		if len(sg.Edges) >= MaxSubgraphResults {
			break
		}
	}
	for _, v := range vids {
		if _, ok := m.entities[v]; ok {
			nodes[v] = true
		}
	}
	for vid := range nodes {
		if e, ok := m.entities[vid]; ok {
			sg.Nodes = append(sg.Nodes, e)
		}
	}
	sort.Slice(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].VID < sg.Nodes[j].VID })
	return sg, nil
}

// triplets lists relations touching any vid, in either direction
func (m *Memory) triplets(vids []string) []Triplet {
	set := make(map[string]bool, len(vids))
	for _, v := range vids {
		set[v] = true
	}
	var out []Triplet
	for _, key := range m.relOrder {
		r := m.relations[key]
		if !set[r.SrcVID] && !set[r.DstVID] {
			continue
		}
		out = append(out, Triplet{
			Src:   m.entities[r.SrcVID].Name,
			Label: r.Description,
			Dst:   m.entities[r.DstVID].Name,
		})
	}
	return out
}

// Counts reports stored entities, relations and mention links
func (m *Memory) Counts() (entities, relations, mentions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, vids := range m.mentions {
		mentions += len(vids)
	}
	return len(m.entities), len(m.relations), mentions
}

// HasChunk reports whether a chunk vertex was written
func (m *Memory) HasChunk(chunkID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.chunks[chunkID]
	return ok
}

// Mentions returns entity vids linked from a chunk
func (m *Memory) Mentions(chunkID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.mentions[chunkID]...)
}

// Entity returns a stored entity by vid
func (m *Memory) Entity(vid string) (domain.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[vid]
	return e, ok
}

// Relations returns stored relations in insertion order
func (m *Memory) Relations() []domain.Relation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Relation, 0, len(m.relOrder))
	for _, key := range m.relOrder {
		out = append(out, m.relations[key])
	}
	return out
}
