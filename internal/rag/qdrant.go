package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// payloadFieldNamespace is the indexed keyword payload field that scopes
// records to one ingestion run. Qdrant has no first-class namespaces, so
// every query, count, and purge filters on this field instead.
const payloadFieldNamespace = "namespace"

// payloadFieldText is the payload field holding the chunk text.
const payloadFieldText = "text"

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the shared Qdrant collection all namespaces live in.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. All
// namespaces share one collection; isolation comes from the namespace
// payload filter applied to every read and write-adjacent operation.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it and the namespace field index if necessary), and
// returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection and the keyword index on
// the namespace field if they do not already exist. Idempotent.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
		}
	}

	// The namespace filter runs on every query; a keyword index keeps it
	// from degrading into a full scan as the collection grows.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadFieldNamespace,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index namespace field: %w", err)
	}

	return nil
}

// Ready reports whether the collection exists and the cluster is serving.
func (s *QdrantStore) Ready(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: readiness probe failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("qdrant: collection %q does not exist", s.cfg.Collection)
	}
	return nil
}

// Upsert stores or updates a batch of records and their embeddings under
// namespace. Wait is set so the write is flushed before the call returns,
// which shortens the readiness gate's wait on the other side.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record, embeddings [][]float32) error {
	if len(records) != len(embeddings) {
		return fmt.Errorf("qdrant: %d records but %d embeddings", len(records), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, rec := range records {
		payload := map[string]any{
			payloadFieldText:      rec.Text,
			payloadFieldNamespace: namespace,
		}
		for k, v := range rec.Meta {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Query performs a cosine similarity search scoped to namespace and returns
// the top-k results, best score first.
func (s *QdrantStore) Query(ctx context.Context, namespace string, queryEmbedding []float32, topK int) ([]Hit, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         s.namespaceFilter(namespace),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: make(map[string]any, len(r.Payload)),
		}
		for k, v := range r.Payload {
			if val := payloadValue(v); val != nil {
				hit.Payload[k] = val
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// Count returns the exact number of vectors stored under namespace.
func (s *QdrantStore) Count(ctx context.Context, namespace string) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         s.namespaceFilter(namespace),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return count, nil
}

// Purge deletes every vector under namespace via a filter delete.
func (s *QdrantStore) Purge(ctx context.Context, namespace string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(s.namespaceFilter(namespace)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: purge of namespace %q failed: %w", namespace, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// namespaceFilter builds the must-match condition that scopes an operation
// to one namespace.
func (s *QdrantStore) namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadFieldNamespace, namespace),
		},
	}
}

// payloadValue converts a Qdrant payload value into a plain Go value for the
// retriever's schema-agnostic field scanning. Nested kinds are dropped — the
// fallback chain only ever inspects scalars.
func payloadValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}
