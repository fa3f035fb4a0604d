package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTL(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"45s", 45 * time.Second},
		{"30m", 30 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"1500", 1500 * time.Millisecond},
	}

	for _, tc := range cases {
		got, err := ParseTTL(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseTTLRejectsUnknownSuffix(t *testing.T) {
	for _, raw := range []string{"1w", "10x", "5ms"} {
		_, err := ParseTTL(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseTTLRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "h", "-5m", "0s", "abc"} {
		_, err := ParseTTL(raw)
		assert.Error(t, err, raw)
	}
}
