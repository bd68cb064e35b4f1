package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqFilter(t *testing.T) {
	meta := Metadata{"type": "note", "chunk_index": 3}

	assert.True(t, Eq("type", "note").Match(meta))
	assert.False(t, Eq("type", "insight").Match(meta))
	assert.False(t, Eq("missing", "note").Match(meta))
}

func TestEqFilterNumericBlur(t *testing.T) {
	// JSON decoding turns ints into float64; both directions must match.
	assert.True(t, Eq("n", 3).Match(Metadata{"n": float64(3)}))
	assert.True(t, Eq("n", float64(3)).Match(Metadata{"n": 3}))
	assert.False(t, Eq("n", 4).Match(Metadata{"n": float64(3)}))
}

func TestEqFilterKindValue(t *testing.T) {
	meta := Metadata{"type": "code"}
	assert.True(t, Eq("type", KindCode).Match(meta))
}

func TestInFilter(t *testing.T) {
	meta := Metadata{"branch": "main"}

	assert.True(t, In("branch", "main", "master").Match(meta))
	assert.False(t, In("branch", "develop").Match(meta))
	assert.True(t, InStrings("branch", []string{"feature", "main"}).Match(meta))
}

func TestAndOrComposition(t *testing.T) {
	meta := Metadata{"type": "code", "repository": "cortex", "branch": "main"}

	f := And(
		Eq("repository", "cortex"),
		Or(Eq("type", "note"), Eq("type", "code")),
	)
	assert.True(t, f.Match(meta))

	f = And(Eq("repository", "cortex"), Eq("type", "note"))
	assert.False(t, f.Match(meta))
}

func TestEmptyAndMatchesEverything(t *testing.T) {
	assert.True(t, And().Match(Metadata{"anything": 1}))
	assert.False(t, Or().Match(Metadata{"anything": 1}))
}

func TestBranchScoped(t *testing.T) {
	assert.True(t, BranchScoped(KindCode))
	assert.True(t, BranchScoped(KindSkeleton))
	assert.True(t, BranchScoped(KindEntryPoint))
	assert.False(t, BranchScoped(KindNote))
	assert.False(t, BranchScoped(KindInitiative))
	assert.False(t, BranchScoped(KindTechStack))
}

func TestMetadataCollections(t *testing.T) {
	meta := Metadata{}
	meta.SetJSON("tags", []string{"auth", "jwt"})
	meta.SetJSON("file_hashes", map[string]string{"a.py": "abc"})

	assert.Equal(t, []string{"auth", "jwt"}, meta.StringSlice("tags"))
	assert.Equal(t, map[string]string{"a.py": "abc"}, meta.StringMap("file_hashes"))
	assert.Nil(t, meta.StringSlice("missing"))
}
