package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/infrastructure/walker"
)

func stamp(daysAgo int) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format(time.RFC3339)
}

func insightMeta(daysAgo int) document.Metadata {
	return document.Metadata{
		document.MetaType:       string(document.KindInsight),
		document.MetaCreatedAt:  stamp(daysAgo),
		document.MetaVerifiedAt: stamp(daysAgo),
		document.MetaStatus:     memory.StatusActive,
	}
}

func TestCheckInsightFresh(t *testing.T) {
	svc := NewStalenessService(testRuntime(), testLogger())
	st := svc.CheckInsight(insightMeta(2), "")
	assert.Equal(t, memory.StalenessFresh, st.Level)
	assert.False(t, st.VerificationRequired)
	assert.Empty(t, FormatWarning(st, insightMeta(2)))
}

func TestCheckInsightDeprecatedWinsOverEverything(t *testing.T) {
	svc := NewStalenessService(testRuntime(), testLogger())
	meta := insightMeta(200)
	meta[document.MetaStatus] = memory.StatusDeprecated
	meta[document.MetaSupersededBy] = "insight:11112222"

	st := svc.CheckInsight(meta, "")
	assert.Equal(t, memory.StalenessDeprecated, st.Level)

	warning := FormatWarning(st, meta)
	assert.Contains(t, warning, "DEPRECATED")
	assert.Contains(t, warning, "insight:11112222")
}

func TestCheckInsightFilesDeleted(t *testing.T) {
	dir := t.TempDir()
	meta := insightMeta(1)
	meta.SetJSON(document.MetaFiles, []string{"gone.go"})
	meta.SetJSON(document.MetaFileHashes, map[string]string{"gone.go": "abc"})

	svc := NewStalenessService(testRuntime(), testLogger())
	st := svc.CheckInsight(meta, dir)
	assert.Equal(t, memory.StalenessFilesDeleted, st.Level)
	assert.True(t, st.VerificationRequired)
	assert.Contains(t, FormatWarning(st, meta), "VERIFICATION REQUIRED - FILES DELETED")
}

func TestCheckInsightFilesChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.go")
	require.NoError(t, os.WriteFile(path, []byte("package svc"), 0o644))
	original, err := walker.ComputeFileHash(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("package svc // changed"), 0o644))

	meta := insightMeta(1)
	meta.SetJSON(document.MetaFiles, []string{"svc.go"})
	meta.SetJSON(document.MetaFileHashes, map[string]string{"svc.go": original})

	svc := NewStalenessService(testRuntime(), testLogger())
	st := svc.CheckInsight(meta, dir)
	assert.Equal(t, memory.StalenessLikelyStale, st.Level)
	assert.True(t, st.VerificationRequired)
	assert.Contains(t, FormatWarning(st, meta), "VERIFICATION REQUIRED - FILES CHANGED")
	assert.Contains(t, FormatWarning(st, meta), "svc.go")
}

func TestCheckInsightAgeThresholds(t *testing.T) {
	svc := NewStalenessService(testRuntime(), testLogger())

	advisory := svc.CheckInsight(insightMeta(40), "")
	assert.Equal(t, memory.StalenessPossiblyStale, advisory.Level)
	assert.False(t, advisory.VerificationRequired)
	assert.Empty(t, FormatWarning(advisory, insightMeta(40)))

	required := svc.CheckInsight(insightMeta(120), "")
	assert.Equal(t, memory.StalenessPossiblyStale, required.Level)
	assert.True(t, required.VerificationRequired)
	assert.Contains(t, FormatWarning(required, insightMeta(120)), "POSSIBLY OUTDATED")
}

func TestCheckNoteOnlyUsesHigherThreshold(t *testing.T) {
	svc := NewStalenessService(testRuntime(), testLogger())

	meta := document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(45),
	}
	assert.Equal(t, memory.StalenessFresh, svc.CheckNote(meta).Level)

	meta[document.MetaCreatedAt] = stamp(100)
	st := svc.CheckNote(meta)
	assert.Equal(t, memory.StalenessPossiblyStale, st.Level)
	assert.True(t, st.VerificationRequired)
}

func TestCheckDispatchesByKind(t *testing.T) {
	svc := NewStalenessService(testRuntime(), testLogger())

	note := document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(45),
	}
	assert.Equal(t, memory.StalenessFresh, svc.Check(note, "").Level)

	insight := insightMeta(45)
	assert.Equal(t, memory.StalenessPossiblyStale, svc.Check(insight, "").Level)
}
