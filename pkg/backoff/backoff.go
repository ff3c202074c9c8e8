// Package backoff computes retry delays.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt, capped at Max. Delays never
// decrease as the attempt number grows.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func NewExponential(base, max time.Duration) Exponential {
	return Exponential{Base: base, Max: max}
}

func (e Exponential) Delay(attempt int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	f := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && f > float64(e.Max) {
		return e.Max
	}
	return time.Duration(f)
}

// Constant always waits the same interval.
type Constant time.Duration

func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// New returns the named policy: "exponential" (the default) doubles from
// base up to max, "fixed" always waits base.
func New(policy string, base, max time.Duration) (Strategy, error) {
	switch policy {
	case "", "exponential":
		return NewExponential(base, max), nil
	case "fixed":
		return Constant(base), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", policy)
	}
}

func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	d := NewExponential(base, max).Delay(attempt)

	// +/- 20%
	j := int64(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - time.Duration(j) + time.Duration(rand.Int64N(2*j))
}
