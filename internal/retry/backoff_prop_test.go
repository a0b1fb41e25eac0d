package retry

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Properties of the backoff curve that must hold for any policy: delays are
// non-negative, non-decreasing in the attempt number, and never exceed the
// cap once one is set.
func TestBackoffCurve_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genPolicy := gen.Struct(reflect.TypeOf(gopterPolicy{}), map[string]gopter.Gen{
		"BaseDelayMS": gen.IntRange(1, 5000),
		"MaxDelayMS":  gen.IntRange(1, 120000),
	})

	properties.Property("delays non-decreasing and capped", prop.ForAll(
		func(pp gopterPolicy) bool {
			p := DefaultPolicy()
			p.BaseDelay = time.Duration(pp.BaseDelayMS) * time.Millisecond
			p.MaxDelay = time.Duration(pp.MaxDelayMS) * time.Millisecond

			prev := time.Duration(-1)
			for attempt := 1; attempt <= 12; attempt++ {
				d := p.DelayForAttempt(attempt)
				if d < 0 {
					return false
				}
				if d < prev {
					return false
				}
				if d > p.MaxDelay {
					return false
				}
				prev = d
			}
			return true
		},
		genPolicy,
	))

	properties.Property("uncapped delay doubles exactly", prop.ForAll(
		func(baseMS int) bool {
			p := DefaultPolicy()
			p.BaseDelay = time.Duration(baseMS) * time.Millisecond
			p.MaxDelay = 0 // no cap

			for attempt := 1; attempt < 8; attempt++ {
				if p.DelayForAttempt(attempt+1) != 2*p.DelayForAttempt(attempt) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

type gopterPolicy struct {
	BaseDelayMS int
	MaxDelayMS  int
}
