package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectCompletionSignal(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Auth refactor is done", true},
		{"Shipped the new parser today", true},
		{"This closes the migration work", true},
		{"Wrapped up the billing initiative", true},
		{"MERGED to main", true},
		{"donethisbefore", false},
		{"incomplete work remains", false},
		{"abandoned for now", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectCompletionSignal(c.text), c.text)
	}
}

func TestValidationResultValid(t *testing.T) {
	assert.True(t, ValidationStillValid.Valid())
	assert.True(t, ValidationPartiallyValid.Valid())
	assert.True(t, ValidationNoLongerValid.Valid())
	assert.False(t, ValidationResult("maybe").Valid())
}

func TestFormatDuration(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		delta time.Duration
		want  string
	}{
		{30 * time.Minute, "less than 1 hour"},
		{90 * time.Minute, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{30 * time.Hour, "1 day"},
		{3 * 24 * time.Hour, "3 days"},
		{10 * 24 * time.Hour, "1 week"},
		{21 * 24 * time.Hour, "3 weeks"},
		{40 * 24 * time.Hour, "1 month"},
		{100 * 24 * time.Hour, "3 months"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatDuration(base, base.Add(c.delta)))
	}

	assert.Equal(t, "unknown", FormatDuration(time.Time{}, base))
	assert.Equal(t, "unknown", FormatDuration(base, base.Add(-time.Hour)))
}
