package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/search"
)

// Store is the document persistence contract the services depend on. The
// sqlite-backed store in infrastructure/persistence satisfies it.
type Store interface {
	Upsert(ctx context.Context, docs []document.Document) error
	Get(ctx context.Context, ids []string, filter document.Filter) ([]document.Document, error)
	Query(ctx context.Context, text string, topK int, filter document.Filter) ([]search.Hit, error)
	Delete(ctx context.Context, ids []string, filter document.Filter) (int, error)
	Count(ctx context.Context, filter document.Filter) (int, error)
}

// newID mints a document ID of the form "<kind>:<short-hex>".
func newID(kind document.Kind) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return string(kind) + ":" + hex[:8]
}

// NowStamp returns the current instant in the metadata wire format.
func NowStamp() string {
	return time.Now().UTC().Format(document.TimeFormat)
}

// StampWriteTimes sets updated_at to now on meta and carries forward the
// stored document's created_at when the ID already exists. First writes get
// created_at = now.
func StampWriteTimes(ctx context.Context, store Store, id string, meta document.Metadata) {
	now := NowStamp()
	meta[document.MetaUpdatedAt] = now
	meta[document.MetaCreatedAt] = now
	if prior, err := store.Get(ctx, []string{id}, nil); err == nil && len(prior) == 1 {
		if created := prior[0].Metadata().String(document.MetaCreatedAt); created != "" {
			meta[document.MetaCreatedAt] = created
		}
	}
}

// SkeletonID returns the singleton skeleton ID for a repository and branch.
func SkeletonID(repository, branch string) string {
	if branch == "" {
		branch = "unknown"
	}
	return repository + ":skeleton:" + branch
}

// FocusID returns the singleton focus ID for a repository.
func FocusID(repository string) string {
	return repository + ":focus"
}

// TechStackID returns the singleton tech-stack ID for a repository.
func TechStackID(repository string) string {
	return repository + ":tech_stack"
}
