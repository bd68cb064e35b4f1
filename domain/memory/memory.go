// Package memory provides the domain vocabulary for notes, insights, session
// summaries, initiatives, and the staleness model that assesses them against
// current repository state.
package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Document status values shared by notes, insights, and summaries.
const (
	StatusActive     = "active"
	StatusCompleted  = "completed"
	StatusDeprecated = "deprecated"
)

// ValidationResult is the outcome of a manual insight validation.
type ValidationResult string

// Validation results.
const (
	ValidationStillValid     ValidationResult = "still_valid"
	ValidationPartiallyValid ValidationResult = "partially_valid"
	ValidationNoLongerValid  ValidationResult = "no_longer_valid"
)

// Valid reports whether the result is one of the known values.
func (v ValidationResult) Valid() bool {
	switch v {
	case ValidationStillValid, ValidationPartiallyValid, ValidationNoLongerValid:
		return true
	}
	return false
}

// StalenessLevel grades how much a stored understanding can be trusted.
type StalenessLevel string

// Staleness levels, ordered roughly by severity.
const (
	StalenessFresh         StalenessLevel = "fresh"
	StalenessPossiblyStale StalenessLevel = "possibly_stale"
	StalenessLikelyStale   StalenessLevel = "likely_stale"
	StalenessFilesDeleted  StalenessLevel = "files_deleted"
	StalenessDeprecated    StalenessLevel = "deprecated"
)

// Staleness thresholds in days.
const (
	StaleThresholdDays     = 30
	VeryStaleThresholdDays = 90
)

// InitiativeStaleDays is how long an active initiative may go untouched
// before orient flags it.
const InitiativeStaleDays = 5

// Staleness is the assessment of one document against repository state.
type Staleness struct {
	Level                StalenessLevel `json:"level"`
	VerificationRequired bool           `json:"verification_required"`
	Reasons              []string       `json:"reasons,omitempty"`
	FilesChanged         []string       `json:"files_changed,omitempty"`
	FilesDeleted         []string       `json:"files_deleted,omitempty"`
	DaysSinceCreated     int            `json:"days_since_created"`
	DaysSinceVerified    int            `json:"days_since_verified"`
}

// completionSignals are whole words in a session summary that suggest the
// focused initiative may be finished.
var completionSignals = []string{
	"complete", "completed", "done", "finished", "shipped",
	"merged", "released", "wrapped up", "closes",
}

var completionPattern = buildCompletionPattern()

func buildCompletionPattern() *regexp.Regexp {
	escaped := make([]string, len(completionSignals))
	for i, s := range completionSignals {
		escaped[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// DetectCompletionSignal reports whether the text contains a completion
// signal as a whole word, case-insensitively.
func DetectCompletionSignal(text string) bool {
	return completionPattern.MatchString(text)
}

// FormatDuration renders the lifetime of an initiative for archive stats.
func FormatDuration(from, to time.Time) string {
	if from.IsZero() || to.Before(from) {
		return "unknown"
	}
	d := to.Sub(from)
	switch {
	case d < time.Hour:
		return "less than 1 hour"
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case d < 48*time.Hour:
		return "1 day"
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d < 30*24*time.Hour:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week"
		}
		return fmt.Sprintf("%d weeks", weeks)
	default:
		months := int(d.Hours() / 24 / 30)
		if months == 1 {
			return "1 month"
		}
		return fmt.Sprintf("%d months", months)
	}
}
