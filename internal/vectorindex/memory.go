package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/fingerprint"
)

// Memory is an in-process Index for tests and local runs
type Memory struct {
	mu         sync.RWMutex
	dimensions int
	points     map[string]Point
	order      []string
}

func NewMemory(dimensions int) *Memory {
	return &Memory{dimensions: dimensions, points: make(map[string]Point)}
}

func (m *Memory) EnsureCollection(ctx context.Context) error {
	return nil
}

func (m *Memory) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if m.dimensions > 0 && len(p.Vector) != m.dimensions {
			return ErrWrongDimensions
		}
		if _, ok := m.points[p.ID]; !ok {
			m.order = append(m.order, p.ID)
		}
		p.Metadata = scalarMetadata(p.Metadata)
		m.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, kbIDs []string, limit int) ([]Hit, error) {
	if len(kbIDs) == 0 {
		return nil, ErrNoKnowledgeBase
	}
	allowed := make(map[string]bool, len(kbIDs))
	for _, id := range kbIDs {
		allowed[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, id := range m.order {
		p := m.points[id]
		if !allowed[p.KBID] {
			continue
		}
		hits = append(hits, Hit{Point: p, Score: cosine(vector, p.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) FindByHash(ctx context.Context, kbID string, fp domain.Fingerprint) (*fingerprint.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *fingerprint.Record
	for _, id := range m.order {
		p := m.points[id]
		if p.KBID != kbID || p.Hash != fp {
			continue
		}
		if p.Status == domain.KnowledgeStatusCompleted {
			return &fingerprint.Record{PointID: p.ID, Status: p.Status}, nil
		}
		if found == nil {
			found = &fingerprint.Record{PointID: p.ID, Status: p.Status}
		}
	}
	return found, nil
}

func (m *Memory) SetKnowledgeStatus(ctx context.Context, ids []string, status domain.KnowledgeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			p.Status = status
			m.points[id] = p
		}
	}
	return nil
}

func (m *Memory) ListPending(ctx context.Context, kbID string, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Point
	for _, id := range m.order {
		p := m.points[id]
		if p.KBID == kbID && p.Status == domain.KnowledgeStatusPending {
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Get returns a stored point by id
func (m *Memory) Get(id string) (Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	return p, ok
}

// Len returns the number of stored points
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
