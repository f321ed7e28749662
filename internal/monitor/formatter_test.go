package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"zero", 0, "0.0%"},
		{"half", 0.5, "50.0%"},
		{"full", 1, "100.0%"},
		{"fraction", 0.8125, "81.2%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"zero", 0, "0m"},
		{"seconds", 45 * time.Second, "0m"},
		{"minutes", 12 * time.Minute, "12m"},
		{"hours", 2*time.Hour + 15*time.Minute, "2h 15m"},
		{"days", 50 * time.Hour, "2d 2h"},
		{"negative", -90 * time.Minute, "1h 30m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.d))
		})
	}
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "expires in 3h 0m", FormatExpiry(now.Add(3*time.Hour), now))
	assert.Equal(t, "expired 5m ago", FormatExpiry(now.Add(-5*time.Minute), now))
	assert.Equal(t, "expired 0m ago", FormatExpiry(now, now))
}
