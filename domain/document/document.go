// Package document provides the typed-document model shared by every Cortex
// component: the document envelope, kind taxonomy, metadata conventions, and
// the filter algebra used to query the store.
package document

import (
	"encoding/json"
	"time"
)

// Kind identifies what a document represents.
type Kind string

// Document kinds.
const (
	KindCode           Kind = "code"
	KindSkeleton       Kind = "skeleton"
	KindFileMetadata   Kind = "file_metadata"
	KindDependency     Kind = "dependency"
	KindNote           Kind = "note"
	KindInsight        Kind = "insight"
	KindSessionSummary Kind = "session_summary"
	KindTechStack      Kind = "tech_stack"
	KindInitiative     Kind = "initiative"
	KindFocus          Kind = "focus"
	KindDataContract   Kind = "data_contract"
	KindEntryPoint     Kind = "entry_point"
	KindIdiom          Kind = "idiom"
)

// branchScoped is the set of kinds whose lifecycle is tied to a branch.
// Memory-family documents (notes, insights, summaries) and repository-level
// documents (tech stack, initiatives, focus) are visible across branches.
var branchScoped = map[Kind]bool{
	KindCode:         true,
	KindSkeleton:     true,
	KindFileMetadata: true,
	KindDependency:   true,
	KindDataContract: true,
	KindEntryPoint:   true,
}

// BranchScoped reports whether documents of the given kind are scoped to a
// single branch.
func BranchScoped(k Kind) bool {
	return branchScoped[k]
}

// Metadata keys present on every document.
const (
	MetaType       = "type"
	MetaRepository = "repository"
	MetaCreatedAt  = "created_at"
	MetaUpdatedAt  = "updated_at"
)

// Kind-specific metadata keys.
const (
	MetaFilePath     = "file_path"
	MetaBranch       = "branch"
	MetaChunkIndex   = "chunk_index"
	MetaTotalChunks  = "total_chunks"
	MetaLanguage     = "language"
	MetaIndexedAt    = "indexed_at"
	MetaFunctionName = "function_name"
	MetaClassName    = "class_name"
	MetaScope        = "scope"

	MetaTitle         = "title"
	MetaTags          = "tags"
	MetaStatus        = "status"
	MetaVerifiedAt    = "verified_at"
	MetaCreatedCommit = "created_commit"

	MetaFiles                = "files"
	MetaFileHashes           = "file_hashes"
	MetaLastValidationResult = "last_validation_result"
	MetaSupersededBy         = "superseded_by"
	MetaDeprecatedAt         = "deprecated_at"

	MetaInitiativeID      = "initiative_id"
	MetaInitiativeName    = "initiative_name"
	MetaName              = "name"
	MetaGoal              = "goal"
	MetaCompletionSummary = "completion_summary"
	MetaCompletedAt       = "completed_at"

	MetaTotalFiles    = "total_files"
	MetaTotalDirs     = "total_dirs"
	MetaIndexedCommit = "indexed_commit"
)

// TimeFormat is the wire format for all timestamp metadata (RFC 3339 UTC).
const TimeFormat = time.RFC3339

// Metadata is a flat map of scalar values. Collections are stored as JSON
// strings because the store speaks a flat scalar map.
type Metadata map[string]any

// String returns the value for key as a string, or "" if absent or not a
// string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the value for key as an int. JSON round-trips store numbers as
// float64, so both representations are accepted.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns the value for key as a float64.
func (m Metadata) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the value for key as a bool.
func (m Metadata) Bool(key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// Time parses the value for key as an RFC 3339 timestamp. The zero time is
// returned when the key is absent or malformed.
func (m Metadata) Time(key string) time.Time {
	s := m.String(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StringSlice decodes the value for key as a JSON array of strings.
func (m Metadata) StringSlice(key string) []string {
	s := m.String(key)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// StringMap decodes the value for key as a JSON object of string values.
func (m Metadata) StringMap(key string) map[string]string {
	s := m.String(key)
	if s == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// SetJSON stores a collection value as its JSON encoding.
func (m Metadata) SetJSON(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	m[key] = string(data)
}

// Kind returns the document kind recorded in the type key.
func (m Metadata) Kind() Kind {
	return Kind(m.String(MetaType))
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Document is the envelope stored for every record: identity, indexable text,
// dense embedding, and flat scalar metadata.
type Document struct {
	id        string
	text      string
	embedding []float64
	meta      Metadata
}

// New creates a Document. The metadata map is cloned so callers can reuse it.
func New(id, text string, meta Metadata) Document {
	return Document{
		id:   id,
		text: text,
		meta: meta.Clone(),
	}
}

// NewWithEmbedding creates a Document carrying a pre-computed embedding.
func NewWithEmbedding(id, text string, meta Metadata, embedding []float64) Document {
	doc := New(id, text, meta)
	doc.embedding = append([]float64(nil), embedding...)
	return doc
}

// ID returns the document identifier.
func (d Document) ID() string { return d.id }

// Text returns the indexable body.
func (d Document) Text() string { return d.text }

// Embedding returns the dense vector, or nil when not loaded.
func (d Document) Embedding() []float64 { return d.embedding }

// Metadata returns the document's metadata map. Callers must not mutate it.
func (d Document) Metadata() Metadata { return d.meta }

// Kind returns the document kind.
func (d Document) Kind() Kind { return d.meta.Kind() }

// Repository returns the repository tag.
func (d Document) Repository() string { return d.meta.String(MetaRepository) }

// CreatedAt returns the creation timestamp.
func (d Document) CreatedAt() time.Time { return d.meta.Time(MetaCreatedAt) }

// UpdatedAt returns the last-update timestamp.
func (d Document) UpdatedAt() time.Time { return d.meta.Time(MetaUpdatedAt) }
