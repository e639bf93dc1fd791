// Package redis implements a vector store backed by Redis hashes via
// rueidis. Documents live under a key prefix; search ranks candidates
// in-process, which is adequate for the modest corpora this service holds.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/domain"
)

// Config holds connection parameters for the Redis vector store.
type Config struct {
	Addrs      []string
	Password   string
	KeyPrefix  string
	Dimensions int
	Metric     string // cosine (default), dot
	Logger     *zap.Logger
}

// Store implements domain.VectorStore on Redis.
type Store struct {
	client rueidis.Client
	prefix string
	dim    int
	metric string
	logger *zap.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// NewStore creates a Redis vector store.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	metric := cfg.Metric
	if metric == "" {
		metric = "cosine"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix + "doc:",
		dim:    cfg.Dimensions,
		metric: metric,
		logger: logger,
	}, nil
}

// Close shuts down the client. The registry invokes it on Clear.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w", ctx.Err())
		case <-ticker.C:
			cmd := s.client.B().Ping().Build()
			if err := s.client.Do(ctx, cmd).Error(); err == nil {
				return nil
			}
		}
	}
}

// AddDocuments implements domain.VectorStore. The full batch is validated
// before any write; writes are pipelined and any failure fails the call.
func (s *Store) AddDocuments(
	ctx context.Context,
	docs []domain.Document,
	embeddings [][]float32,
) ([]string, error) {
	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("got %d documents and %d embeddings", len(docs), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return nil, fmt.Errorf("document %d: expected dimension %d, got %d: %w",
				i, s.dim, len(emb), domain.ErrVectorDimMismatch)
		}
	}

	ids := make([]string, len(docs))
	cmds := make(rueidis.Commands, 0, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		ids[i] = doc.ID

		fields, err := docFields(doc, embeddings[i])
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		cmds = append(cmds, s.hsetCmd(s.prefix+doc.ID, fields))
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return nil, fmt.Errorf("write documents: %w", err)
		}
	}
	return ids, nil
}

// Search implements domain.VectorStore.
func (s *Store) Search(
	ctx context.Context,
	queryEmbedding []float32,
	topK int,
	filter map[string]any,
) ([]domain.SearchResult, error) {
	if len(queryEmbedding) != s.dim {
		return nil, fmt.Errorf("query: expected dimension %d, got %d: %w",
			s.dim, len(queryEmbedding), domain.ErrVectorDimMismatch)
	}
	if topK <= 0 {
		topK = 10
	}

	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(keys))
	for _, key := range keys {
		doc, vec, err := s.readDoc(ctx, key)
		if err != nil {
			return nil, err
		}
		if doc == nil || !domain.MatchesFilter(doc.Metadata, filter) {
			continue
		}
		results = append(results, domain.SearchResult{
			Document: *doc,
			Score:    similarity(queryEmbedding, vec, s.metric),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocuments implements domain.VectorStore.
func (s *Store) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + id
	}
	cmd := s.client.B().Del().Key(keys...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// UpdateDocument implements domain.VectorStore.
func (s *Store) UpdateDocument(ctx context.Context, id string, doc domain.Document, embedding []float32) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("expected dimension %d, got %d: %w", s.dim, len(embedding), domain.ErrVectorDimMismatch)
	}

	key := s.prefix + id
	existsCmd := s.client.B().Exists().Key(key).Build()
	n, err := s.client.Do(ctx, existsCmd).AsInt64()
	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}

	doc.ID = id
	fields, err := docFields(doc, embedding)
	if err != nil {
		return fmt.Errorf("document %q: %w", id, err)
	}
	if err := s.client.Do(ctx, s.hsetCmd(key, fields)).Error(); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// GetDocument implements domain.VectorStore.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, _, err := s.readDoc(ctx, s.prefix+id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocuments implements domain.VectorStore. Redis key order is
// unspecified; results are sorted by id for stable pagination.
func (s *Store) ListDocuments(ctx context.Context, filter map[string]any, limit int) ([]domain.Document, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	docs := make([]domain.Document, 0, len(keys))
	for _, key := range keys {
		doc, _, err := s.readDoc(ctx, key)
		if err != nil {
			return nil, err
		}
		if doc == nil || !domain.MatchesFilter(doc.Metadata, filter) {
			continue
		}
		docs = append(docs, *doc)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// Stats implements domain.VectorStore.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documents": len(keys),
		"dimension": s.dim,
		"metric":    s.metric,
	}, nil
}

// CheckConnection implements domain.VectorStore via PING.
func (s *Store) CheckConnection(ctx context.Context) bool {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		s.logger.Warn("redis connection check failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Store) hsetCmd(key string, fields map[string]string) rueidis.Completed {
	b := s.client.B().Hset().Key(key).FieldValue()
	for f, v := range fields {
		b = b.FieldValue(f, v)
	}
	return b.Build()
}

func (s *Store) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.prefix + "*").Count(500).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan documents: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// readDoc fetches one document hash. A nil document (no error) means the
// key does not exist.
func (s *Store) readDoc(ctx context.Context, key string) (*domain.Document, []float32, error) {
	cmd := s.client.B().Hgetall().Key(key).Build()
	fields, err := s.client.Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, nil, fmt.Errorf("read document %q: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}

	doc := domain.Document{
		ID:      fields["id"],
		Content: fields["content"],
		Source:  fields["source"],
	}
	if v := fields["page_number"]; v != "" {
		doc.PageNumber, _ = strconv.Atoi(v)
	}
	if v := fields["chunk_index"]; v != "" {
		doc.ChunkIndex, _ = strconv.Atoi(v)
	}
	if v := fields["metadata"]; v != "" {
		if err := json.Unmarshal([]byte(v), &doc.Metadata); err != nil {
			return nil, nil, fmt.Errorf("decode metadata for %q: %w", key, err)
		}
	}

	vec, err := decodeVector([]byte(fields["vector"]))
	if err != nil {
		return nil, nil, fmt.Errorf("decode vector for %q: %w", key, err)
	}
	return &doc, vec, nil
}

func docFields(doc domain.Document, embedding []float32) (map[string]string, error) {
	fields := map[string]string{
		"id":      doc.ID,
		"content": doc.Content,
		"vector":  string(encodeVector(embedding)),
	}
	if doc.Source != "" {
		fields["source"] = doc.Source
	}
	if doc.PageNumber != 0 {
		fields["page_number"] = strconv.Itoa(doc.PageNumber)
	}
	if doc.ChunkIndex != 0 {
		fields["chunk_index"] = strconv.Itoa(doc.ChunkIndex)
	}
	if len(doc.Metadata) > 0 {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		fields["metadata"] = string(meta)
	}
	return fields, nil
}

func similarity(a, b []float32, metric string) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	if metric == "dot" {
		return dot
	}
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
