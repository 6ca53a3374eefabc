package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStr(t *testing.T) {
	t.Setenv("VC_TEST_STR", "")
	assert.Equal(t, "fallback", Str("VC_TEST_STR", "fallback"))

	t.Setenv("VC_TEST_STR", "set")
	assert.Equal(t, "set", Str("VC_TEST_STR", "fallback"))
}

func TestIntAndFloat(t *testing.T) {
	t.Setenv("VC_TEST_INT", "42")
	assert.Equal(t, 42, Int("VC_TEST_INT", 1))

	t.Setenv("VC_TEST_INT", "forty")
	assert.Equal(t, 1, Int("VC_TEST_INT", 1))

	t.Setenv("VC_TEST_FLOAT", "-35.5")
	assert.InDelta(t, -35.5, Float("VC_TEST_FLOAT", 0), 1e-9)
}

func TestBool(t *testing.T) {
	t.Setenv("VC_TEST_BOOL", "false")
	assert.False(t, Bool("VC_TEST_BOOL", true))

	t.Setenv("VC_TEST_BOOL", "maybe")
	assert.True(t, Bool("VC_TEST_BOOL", true))
}

func TestDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s":   10 * time.Second,
		"750ms": 750 * time.Millisecond,
		"1500":  1500 * time.Millisecond,
		"soon":  3 * time.Second,
	}
	for in, want := range cases {
		t.Setenv("VC_TEST_DUR", in)
		assert.Equal(t, want, Duration("VC_TEST_DUR", 3*time.Second), in)
	}
}
