package persistence

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/search"
)

// embeddingColumn stores a float vector as a JSON array in sqlite.
type embeddingColumn []float64

func (e embeddingColumn) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float64(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *embeddingColumn) Scan(value any) error {
	return scanJSON(value, (*[]float64)(e))
}

// metadataColumn stores document metadata as a JSON object in sqlite.
type metadataColumn map[string]any

func (m metadataColumn) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *metadataColumn) Scan(value any) error {
	return scanJSON(value, (*map[string]any)(m))
}

func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}

type documentRow struct {
	ID        string `gorm:"primaryKey"`
	Text      string
	Embedding embeddingColumn `gorm:"type:text"`
	Metadata  metadataColumn  `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (documentRow) TableName() string {
	return "documents"
}

func (r documentRow) document() document.Document {
	return document.NewWithEmbedding(r.ID, r.Text, document.Metadata(r.Metadata), []float64(r.Embedding))
}

// DocumentStore persists documents with their embeddings and metadata.
// Upserts compute embeddings through the configured embedder when the
// caller does not supply them.
type DocumentStore struct {
	db       *gorm.DB
	embedder search.Embedder
	log      *slog.Logger
}

// NewDocumentStore wires a store over an open database. The embedder may be
// nil, in which case documents without embeddings are stored keyword-only.
func NewDocumentStore(db *gorm.DB, embedder search.Embedder, log *slog.Logger) *DocumentStore {
	if log == nil {
		log = slog.Default()
	}
	return &DocumentStore{db: db, embedder: embedder, log: log.With(slog.String("component", "document_store"))}
}

// Upsert inserts or replaces documents by ID. Documents lacking an embedding
// are embedded in a single batch before the write.
func (s *DocumentStore) Upsert(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}

	docs, err := s.embedMissing(ctx, docs)
	if err != nil {
		return err
	}

	rows := make([]documentRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, documentRow{
			ID:        d.ID(),
			Text:      d.Text(),
			Embedding: embeddingColumn(d.Embedding()),
			Metadata:  metadataColumn(d.Metadata()),
		})
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "embedding", "metadata", "updated_at"}),
		}).
		CreateInBatches(rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) embedMissing(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	if s.embedder == nil {
		return docs, nil
	}

	var texts []string
	var missing []int
	for i, d := range docs {
		if len(d.Embedding()) == 0 && d.Text() != "" {
			texts = append(texts, d.Text())
			missing = append(missing, i)
		}
	}
	if len(texts) == 0 {
		return docs, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	out := make([]document.Document, len(docs))
	copy(out, docs)
	for j, i := range missing {
		d := docs[i]
		out[i] = document.NewWithEmbedding(d.ID(), d.Text(), d.Metadata(), vectors[j])
	}
	return out, nil
}

// Get returns documents by explicit IDs, by metadata filter, or both. With
// neither, every document is returned.
func (s *DocumentStore) Get(ctx context.Context, ids []string, filter document.Filter) ([]document.Document, error) {
	q := s.db.WithContext(ctx).Model(&documentRow{})
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}

	docs := make([]document.Document, 0, len(rows))
	for _, r := range rows {
		if filter != nil && !filter.Match(document.Metadata(r.Metadata)) {
			continue
		}
		docs = append(docs, r.document())
	}
	return docs, nil
}

// Query computes an embedding for text and returns the top-k most similar
// documents passing the filter, ordered by cosine similarity.
func (s *DocumentStore) Query(ctx context.Context, text string, topK int, filter document.Filter) ([]search.Hit, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("vector query requires an embedder")
	}
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}
	return s.QueryByVector(ctx, vectors[0], topK, filter)
}

// QueryByVector performs the similarity scan with a precomputed query vector.
func (s *DocumentStore) QueryByVector(ctx context.Context, vector []float64, topK int, filter document.Filter) ([]search.Hit, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	candidates := make([]search.Vector, 0, len(rows))
	byID := make(map[string]documentRow, len(rows))
	for _, r := range rows {
		if len(r.Embedding) == 0 {
			continue
		}
		if filter != nil && !filter.Match(document.Metadata(r.Metadata)) {
			continue
		}
		candidates = append(candidates, search.NewVector(r.ID, []float64(r.Embedding)))
		byID[r.ID] = r
	}

	top := search.TopKSimilar(vector, candidates, topK)
	hits := make([]search.Hit, 0, len(top))
	for _, h := range top {
		r := byID[h.ID()]
		hits = append(hits, search.NewHit(r.ID, r.Text, document.Metadata(r.Metadata), h.Score()))
	}
	return hits, nil
}

// Delete removes documents by IDs and/or filter and reports how many rows
// were removed. With neither argument it deletes nothing.
func (s *DocumentStore) Delete(ctx context.Context, ids []string, filter document.Filter) (int, error) {
	if len(ids) == 0 && filter == nil {
		return 0, nil
	}

	target := ids
	if filter != nil {
		docs, err := s.Get(ctx, ids, filter)
		if err != nil {
			return 0, err
		}
		target = make([]string, 0, len(docs))
		for _, d := range docs {
			target = append(target, d.ID())
		}
	}
	if len(target) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", target).Delete(&documentRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete documents: %w", res.Error)
	}
	s.log.Debug("documents deleted", slog.Int("count", int(res.RowsAffected)))
	return int(res.RowsAffected), nil
}

// Count returns the number of documents matching the filter, or all
// documents when the filter is nil.
func (s *DocumentStore) Count(ctx context.Context, filter document.Filter) (int, error) {
	if filter == nil {
		var n int64
		if err := s.db.WithContext(ctx).Model(&documentRow{}).Count(&n).Error; err != nil {
			return 0, fmt.Errorf("count documents: %w", err)
		}
		return int(n), nil
	}
	docs, err := s.Get(ctx, nil, filter)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
