// Package vector wraps the qdrant client with the small surface the memory
// and routing layers need: collection management, upsert, and cosine search.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/arcfault/switchboard/internal/observability"
)

// ErrUnavailable is returned when no vector backend is configured or the
// backend cannot be reached. Callers fall back to keyword retrieval.
var ErrUnavailable = errors.New("vector: store unavailable")

// Config locates the qdrant endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// CollectionSchema declares a collection. Dimension always comes from the
// configured embedding model, never from a per-provider constant.
type CollectionSchema struct {
	Name      string
	Dimension int
}

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Result is one search hit.
type Result struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Stats summarizes one collection.
type Stats struct {
	Name        string
	PointsCount uint64
	Dimension   int
}

// Store is the qdrant-backed vector substrate.
type Store struct {
	client *qdrant.Client
	logger *observability.Logger
}

// New connects to qdrant. An empty host yields a nil store; all methods on
// a nil store return ErrUnavailable.
func New(cfg Config, logger *observability.Logger) (*Store, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: connect: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

// Available reports whether the store can serve requests.
func (s *Store) Available() bool {
	return s != nil && s.client != nil
}

// EnsureCollection creates the collection if absent. A collection whose
// dimension no longer matches the schema is dropped and recreated; stale
// dimensions produce garbage similarity scores otherwise.
func (s *Store) EnsureCollection(ctx context.Context, schema CollectionSchema) error {
	if !s.Available() {
		return ErrUnavailable
	}

	exists, err := s.client.CollectionExists(ctx, schema.Name)
	if err != nil {
		return fmt.Errorf("vector: collection exists %q: %w", schema.Name, err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, schema.Name)
		if err != nil {
			return fmt.Errorf("vector: collection info %q: %w", schema.Name, err)
		}
		if dim := collectionDimension(info); dim == schema.Dimension {
			return nil
		}
		s.logger.Warn(ctx, "vector collection dimension mismatch, recreating",
			"collection", schema.Name, "want", fmt.Sprint(schema.Dimension))
		if err := s.client.DeleteCollection(ctx, schema.Name); err != nil {
			return fmt.Errorf("vector: drop collection %q: %w", schema.Name, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(schema.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %q: %w", schema.Name, err)
	}
	return nil
}

// Insert upserts points into the collection.
func (s *Store) Insert(ctx context.Context, collection string, points []Point) error {
	if !s.Available() {
		return ErrUnavailable
	}
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %q: %w", collection, err)
	}
	return nil
}

// Search runs a cosine similarity query. Filter is an optional equality
// match on payload fields.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	limit := uint64(topK)

	var qfilter *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for field, value := range filter {
			conditions = append(conditions, qdrant.NewMatch(field, value))
		}
		qfilter = &qdrant.Filter{Must: conditions}
	}

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         qfilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: query %q: %w", collection, err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:      pointID(hit.Id),
			Score:   hit.Score,
			Payload: payloadMap(hit.Payload),
		})
	}
	return results, nil
}

// DeleteAll removes every point from the collection without dropping it.
func (s *Store) DeleteAll(ctx context.Context, collection string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	})
	if err != nil {
		return fmt.Errorf("vector: delete all %q: %w", collection, err)
	}
	return nil
}

// GetStats returns the point count and dimension of the collection.
func (s *Store) GetStats(ctx context.Context, collection string) (*Stats, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("vector: stats %q: %w", collection, err)
	}
	var count uint64
	if info.PointsCount != nil {
		count = *info.PointsCount
	}
	return &Stats{
		Name:        collection,
		PointsCount: count,
		Dimension:   collectionDimension(info),
	}, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

func collectionDimension(info *qdrant.CollectionInfo) int {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0
	}
	return int(params.Size)
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if s := id.GetUuid(); s != "" {
		return s
	}
	return fmt.Sprint(id.GetNum())
}

func payloadMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	default:
		return nil
	}
}
