package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/fingerprint"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantAPI is the subset of *qdrant.Client used here
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	SetPayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantConfig holds connection settings for QdrantIndex
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// QdrantIndex implements Index on a Qdrant collection with cosine distance
type QdrantIndex struct {
	client     qdrantAPI
	collection string
	dimensions int
	timeout    time.Duration
}

// NewQdrantIndex dials Qdrant over gRPC
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return newQdrantIndex(client, cfg), nil
}

func newQdrantIndex(client qdrantAPI, cfg QdrantConfig) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
	}
}

// Close releases the gRPC connection
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// EnsureCollection creates the collection and its keyword indexes when missing
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{FieldKBID, FieldContentHash, FieldKGStatus} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if q.dimensions > 0 && len(p.Vector) != q.dimensions {
			return ErrWrongDimensions
		}
		payload, err := qdrant.TryValueMap(pointPayload(p))
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, kbIDs []string, limit int) ([]Hit, error) {
	if len(kbIDs) == 0 {
		return nil, ErrNoKnowledgeBase
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeywords(FieldKBID, kbIDs...)},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	hits := make([]Hit, 0, len(res))
	for _, sp := range res {
		hits = append(hits, Hit{
			Point: pointFromPayload(sp.GetId().GetUuid(), sp.GetPayload()),
			Score: float64(sp.GetScore()),
		})
	}
	return hits, nil
}

func (q *QdrantIndex) FindByHash(ctx context.Context, kbID string, fp domain.Fingerprint) (*fingerprint.Record, error) {
	points, err := q.scroll(ctx, 16,
		qdrant.NewMatch(FieldKBID, kbID),
		qdrant.NewMatch(FieldContentHash, string(fp)),
	)
	if err != nil {
		return nil, err
	}

	var found *fingerprint.Record
	for _, p := range points {
		if p.Status == domain.KnowledgeStatusCompleted {
			return &fingerprint.Record{PointID: p.ID, Status: p.Status}, nil
		}
		if found == nil {
			found = &fingerprint.Record{PointID: p.ID, Status: p.Status}
		}
	}
	return found, nil
}

func (q *QdrantIndex) SetKnowledgeStatus(ctx context.Context, ids []string, status domain.KnowledgeStatus) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        qdrant.NewValueMap(map[string]any{FieldKGStatus: string(status)}),
		PointsSelector: qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to set kg_status on %d points: %w", len(ids), err)
	}
	return nil
}

func (q *QdrantIndex) ListPending(ctx context.Context, kbID string, limit int) ([]Point, error) {
	return q.scroll(ctx, limit,
		qdrant.NewMatch(FieldKBID, kbID),
		qdrant.NewMatch(FieldKGStatus, string(domain.KnowledgeStatusPending)),
	)
}

func (q *QdrantIndex) scroll(ctx context.Context, limit int, must ...*qdrant.Condition) ([]Point, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	res, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll collection: %w", err)
	}

	points := make([]Point, 0, len(res))
	for _, rp := range res {
		points = append(points, pointFromPayload(rp.GetId().GetUuid(), rp.GetPayload()))
	}
	return points, nil
}

func pointPayload(p Point) map[string]any {
	payload := scalarMetadata(p.Metadata)
	payload[FieldContent] = p.Content
	payload[FieldKBID] = p.KBID
	payload[FieldSourceID] = p.SourceID
	payload[FieldContentHash] = string(p.Hash)
	status := p.Status
	if status == "" {
		status = domain.KnowledgeStatusPending
	}
	payload[FieldKGStatus] = string(status)
	return payload
}

func pointFromPayload(id string, payload map[string]*qdrant.Value) Point {
	p := Point{ID: id, Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case FieldContent:
			p.Content = v.GetStringValue()
		case FieldKBID:
			p.KBID = v.GetStringValue()
		case FieldSourceID:
			p.SourceID = v.GetStringValue()
		case FieldContentHash:
			p.Hash = domain.Fingerprint(v.GetStringValue())
		case FieldKGStatus:
			p.Status = domain.KnowledgeStatus(v.GetStringValue())
		default:
			if val, ok := scalarValue(v); ok {
				p.Metadata[k] = val
			}
		}
	}
	return p
}

func scalarValue(v *qdrant.Value) (any, bool) {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return kind.BoolValue, true
	default:
		return nil, false
	}
}
