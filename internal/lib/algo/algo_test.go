package algo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormattedAlgoAmount(t *testing.T) {
	assert.Equal(t, "1", FormattedAlgoAmount(1_000_000))
	assert.Equal(t, "0.785", FormattedAlgoAmount(785_000))
	assert.Equal(t, "0", FormattedAlgoAmount(0))
}

func TestDefaultKeyDilution(t *testing.T) {
	testCases := []struct {
		name        string
		first, last uint64
		expected    uint64
	}{
		{"1000 rounds", 100, 1100, 32},
		{"perfect square", 0, 10_000, 100},
		{"empty window", 10, 10, 1},
		{"inverted window", 10, 5, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DefaultKeyDilution(tc.first, tc.last))
		})
	}
}

func TestAverageInterval(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	times := []time.Time{base, base.Add(3 * time.Second), base.Add(6 * time.Second), base.Add(8 * time.Second)}
	assert.Equal(t, 8*time.Second/3, AverageInterval(times))
	assert.Zero(t, AverageInterval(times[:1]))
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("X-API-Key: abc:def , other:1,bogus")
	assert.Equal(t, map[string]string{"X-API-Key": "abc:def", "other": "1"}, headers)
}
