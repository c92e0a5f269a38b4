package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualIsMonotonic(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())
	assert.Equal(t, start.Add(time.Hour), m.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), m.Advance(-time.Minute))
	assert.Equal(t, start.Add(time.Hour), m.Set(start))
	assert.Equal(t, start.Add(48*time.Hour), m.Set(start.Add(48*time.Hour)))
}

func TestSystemIsUTC(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.UTC, System{}.Now().Location())
}
