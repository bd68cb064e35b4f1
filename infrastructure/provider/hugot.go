package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/scottyroges/cortex/domain/search"
)

// Model directory names under the model cache. Each must contain a
// tokenizer.json alongside the ONNX weights.
const (
	embedModelDir  = "embedding"
	rerankModelDir = "reranker"
)

// ortRuntime holds the process-wide hugot session and pipelines. ONNX
// Runtime allows one active session per process and is not thread-safe, so
// the mutex serializes initialization and inference for all consumers.
var ortRuntime struct {
	mu       sync.Mutex
	session  *hugot.Session
	embedder *pipelines.FeatureExtractionPipeline
	reranker *pipelines.TextClassificationPipeline
}

func sessionLocked() (*hugot.Session, error) {
	if ortRuntime.session != nil {
		return ortRuntime.session, nil
	}
	session, err := newHugotSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	ortRuntime.session = session
	return session, nil
}

// ShutdownORT destroys the process-wide hugot session. Safe to call when
// no session was ever created.
func ShutdownORT() error {
	ortRuntime.mu.Lock()
	defer ortRuntime.mu.Unlock()
	if ortRuntime.session == nil {
		return nil
	}
	err := ortRuntime.session.Destroy()
	ortRuntime.session = nil
	ortRuntime.embedder = nil
	ortRuntime.reranker = nil
	return err
}

// modelPath checks that a model directory is usable.
func modelPath(cacheDir, sub string) (string, error) {
	dir := filepath.Join(cacheDir, sub)
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return "", fmt.Errorf("no model with tokenizer.json at %s", dir)
	}
	return dir, nil
}

// HugotEmbedder computes dense vectors with a local sentence-transformer
// model through hugot. Implements the search.Embedder contract.
type HugotEmbedder struct {
	cacheDir string
}

// NewHugotEmbedder creates an embedder looking for its model under
// cacheDir/embedding.
func NewHugotEmbedder(cacheDir string) *HugotEmbedder {
	return &HugotEmbedder{cacheDir: cacheDir}
}

// Available reports whether the embedding model exists on disk.
func (h *HugotEmbedder) Available() bool {
	_, err := modelPath(h.cacheDir, embedModelDir)
	return err == nil
}

func (h *HugotEmbedder) pipeline() (*pipelines.FeatureExtractionPipeline, error) {
	ortRuntime.mu.Lock()
	defer ortRuntime.mu.Unlock()

	if ortRuntime.embedder != nil {
		return ortRuntime.embedder, nil
	}
	session, err := sessionLocked()
	if err != nil {
		return nil, err
	}
	path, err := modelPath(h.cacheDir, embedModelDir)
	if err != nil {
		return nil, err
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: path,
		Name:      "cortex-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding pipeline: %w", err)
	}
	ortRuntime.embedder = pipeline
	return pipeline, nil
}

// Embed implements search.Embedder.
func (h *HugotEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pipeline, err := h.pipeline()
	if err != nil {
		return nil, err
	}

	ortRuntime.mu.Lock()
	out, err := pipeline.RunPipeline(texts)
	ortRuntime.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding pipeline returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}

	vectors := make([][]float64, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		v := make([]float64, len(emb))
		for j, f := range emb {
			v[j] = float64(f)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// HugotReranker scores query/passage pairs with a local cross-encoder model.
// Implements the search.Reranker contract.
type HugotReranker struct {
	cacheDir string
}

// NewHugotReranker creates a reranker looking for its model under
// cacheDir/reranker.
func NewHugotReranker(cacheDir string) *HugotReranker {
	return &HugotReranker{cacheDir: cacheDir}
}

// Available reports whether the cross-encoder model exists on disk.
func (h *HugotReranker) Available() bool {
	_, err := modelPath(h.cacheDir, rerankModelDir)
	return err == nil
}

func (h *HugotReranker) pipeline() (*pipelines.TextClassificationPipeline, error) {
	ortRuntime.mu.Lock()
	defer ortRuntime.mu.Unlock()

	if ortRuntime.reranker != nil {
		return ortRuntime.reranker, nil
	}
	session, err := sessionLocked()
	if err != nil {
		return nil, err
	}
	path, err := modelPath(h.cacheDir, rerankModelDir)
	if err != nil {
		return nil, err
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: path,
		Name:      "cortex-reranker",
		Options: []hugot.TextClassificationOption{
			pipelines.WithSingleLabel(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create reranker pipeline: %w", err)
	}
	ortRuntime.reranker = pipeline
	return pipeline, nil
}

// Rerank implements search.Reranker. Each hit is scored as the pair
// "query [SEP] passage"; the label score is the cross-encoder relevance.
// Input metadata is preserved.
func (h *HugotReranker) Rerank(ctx context.Context, query string, hits []search.Hit, topK int) ([]search.Hit, error) {
	if len(hits) == 0 || topK <= 0 {
		return []search.Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pipeline, err := h.pipeline()
	if err != nil {
		return nil, err
	}

	pairs := make([]string, len(hits))
	for i, hit := range hits {
		pairs[i] = query + " [SEP] " + hit.Text()
	}

	ortRuntime.mu.Lock()
	out, err := pipeline.RunPipeline(pairs)
	ortRuntime.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run reranker pipeline: %w", err)
	}
	if len(out.ClassificationOutputs) != len(hits) {
		return nil, fmt.Errorf("reranker returned %d scores for %d hits", len(out.ClassificationOutputs), len(hits))
	}

	scored := make([]search.Hit, len(hits))
	for i, results := range out.ClassificationOutputs {
		score := 0.0
		if len(results) > 0 {
			score = float64(results[0].Score)
		}
		scored[i] = hits[i].WithScore(score)
	}
	search.SortByScore(scored)
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}
