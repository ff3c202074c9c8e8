package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_NonDecreasing(t *testing.T) {
	e := NewExponential(250*time.Millisecond, time.Minute)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := e.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestExponential_ZeroBase(t *testing.T) {
	assert.Zero(t, NewExponential(0, time.Minute).Delay(3))
}

func TestConstant(t *testing.T) {
	c := Constant(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Delay(1))
	assert.Equal(t, 3*time.Second, c.Delay(9))
}

func TestExponentialJitter_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := ExponentialJitter(time.Second, time.Minute, 3)
		assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
		assert.Less(t, d, 4800*time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	s, err := New("", time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, s.Delay(3))

	s, err = New("fixed", 2*time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, s.Delay(7))

	_, err = New("linear", time.Second, time.Minute)
	assert.Error(t, err)
}
