// Package service contains the application layer: the orchestration between
// the store, the index infrastructure, the model providers, and the task
// queues that the tool registry exposes.
package service

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/internal/config"
	"github.com/scottyroges/cortex/infrastructure/walker"
)

// StalenessService grades stored understandings against the repository's
// current files and age thresholds.
type StalenessService struct {
	runtime *config.Runtime
	log     *slog.Logger
}

// NewStalenessService creates the assessor.
func NewStalenessService(runtime *config.Runtime, log *slog.Logger) *StalenessService {
	if log == nil {
		log = slog.Default()
	}
	return &StalenessService{
		runtime: runtime,
		log:     log.With(slog.String("component", "staleness")),
	}
}

func (s *StalenessService) thresholds() (staleDays, veryStaleDays int) {
	staleDays, veryStaleDays = memory.StaleThresholdDays, memory.VeryStaleThresholdDays
	if s.runtime != nil {
		settings := s.runtime.Snapshot()
		if settings.StalenessThresholdDays > 0 {
			staleDays = settings.StalenessThresholdDays
		}
		if settings.VeryStaleThresholdDays > 0 {
			veryStaleDays = settings.VeryStaleThresholdDays
		}
	}
	return staleDays, veryStaleDays
}

// CheckInsight assesses an insight's metadata against the files it
// references under repoPath. The check is pure in (metadata, filesystem).
func (s *StalenessService) CheckInsight(meta document.Metadata, repoPath string) memory.Staleness {
	st := memory.Staleness{
		Level:             memory.StalenessFresh,
		DaysSinceCreated:  daysSince(meta.Time(document.MetaCreatedAt)),
		DaysSinceVerified: daysSinceVerified(meta),
	}

	if meta.String(document.MetaStatus) == memory.StatusDeprecated {
		st.Level = memory.StalenessDeprecated
		st.Reasons = append(st.Reasons, "insight is marked deprecated")
		return st
	}

	if repoPath != "" {
		files := meta.StringSlice(document.MetaFiles)
		hashes := meta.StringMap(document.MetaFileHashes)
		for _, f := range files {
			abs := f
			if !filepath.IsAbs(abs) {
				abs = filepath.Join(repoPath, f)
			}
			current, err := walker.ComputeFileHash(abs)
			if err != nil {
				st.FilesDeleted = append(st.FilesDeleted, f)
				continue
			}
			if stored, ok := hashes[f]; ok && stored != current {
				st.FilesChanged = append(st.FilesChanged, f)
			}
		}
		if len(st.FilesDeleted) > 0 {
			st.Level = memory.StalenessFilesDeleted
			st.VerificationRequired = true
			st.Reasons = append(st.Reasons,
				fmt.Sprintf("%d referenced file(s) no longer exist", len(st.FilesDeleted)))
			return st
		}
		if len(st.FilesChanged) > 0 {
			st.Level = memory.StalenessLikelyStale
			st.VerificationRequired = true
			st.Reasons = append(st.Reasons,
				fmt.Sprintf("%d referenced file(s) changed since capture", len(st.FilesChanged)))
			return st
		}
	}

	staleDays, veryStaleDays := s.thresholds()
	switch {
	case st.DaysSinceVerified >= veryStaleDays:
		st.Level = memory.StalenessPossiblyStale
		st.VerificationRequired = true
		st.Reasons = append(st.Reasons,
			fmt.Sprintf("not verified in %d days", st.DaysSinceVerified))
	case st.DaysSinceVerified >= staleDays:
		st.Level = memory.StalenessPossiblyStale
		st.Reasons = append(st.Reasons,
			fmt.Sprintf("not verified in %d days", st.DaysSinceVerified))
	}
	return st
}

// CheckNote assesses a note or session summary. Notes reference no files;
// only the deprecated flag and the higher age threshold apply.
func (s *StalenessService) CheckNote(meta document.Metadata) memory.Staleness {
	st := memory.Staleness{
		Level:             memory.StalenessFresh,
		DaysSinceCreated:  daysSince(meta.Time(document.MetaCreatedAt)),
		DaysSinceVerified: daysSinceVerified(meta),
	}

	if meta.String(document.MetaStatus) == memory.StatusDeprecated {
		st.Level = memory.StalenessDeprecated
		st.Reasons = append(st.Reasons, "note is marked deprecated")
		return st
	}

	_, veryStaleDays := s.thresholds()
	if st.DaysSinceVerified >= veryStaleDays {
		st.Level = memory.StalenessPossiblyStale
		st.VerificationRequired = true
		st.Reasons = append(st.Reasons,
			fmt.Sprintf("not verified in %d days", st.DaysSinceVerified))
	}
	return st
}

// Check dispatches by document kind.
func (s *StalenessService) Check(meta document.Metadata, repoPath string) memory.Staleness {
	if meta.Kind() == document.KindInsight {
		return s.CheckInsight(meta, repoPath)
	}
	return s.CheckNote(meta)
}

// FormatWarning renders the human-readable verification warning surfaced on
// search results. Returns "" for fresh and advisory-only assessments.
func FormatWarning(st memory.Staleness, meta document.Metadata) string {
	switch st.Level {
	case memory.StalenessDeprecated:
		msg := "DEPRECATED: this memory was marked no longer valid"
		if at := meta.String(document.MetaDeprecatedAt); at != "" {
			msg += " on " + at
		}
		if by := meta.String(document.MetaSupersededBy); by != "" {
			msg += "; superseded by " + by
		}
		return msg
	case memory.StalenessFilesDeleted:
		return "VERIFICATION REQUIRED - FILES DELETED: " +
			strings.Join(st.FilesDeleted, ", ") + " no longer exist; verify before relying on this"
	case memory.StalenessLikelyStale:
		return "VERIFICATION REQUIRED - FILES CHANGED: " +
			strings.Join(st.FilesChanged, ", ") + " changed since this was captured; verify before relying on this"
	case memory.StalenessPossiblyStale:
		if !st.VerificationRequired {
			return ""
		}
		return fmt.Sprintf("POSSIBLY OUTDATED: not verified in %d days", st.DaysSinceVerified)
	default:
		return ""
	}
}

func daysSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	d := time.Since(t)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// daysSinceVerified falls back to created_at when the document was never
// explicitly verified.
func daysSinceVerified(meta document.Metadata) int {
	if t := meta.Time(document.MetaVerifiedAt); !t.IsZero() {
		return daysSince(t)
	}
	return daysSince(meta.Time(document.MetaCreatedAt))
}
