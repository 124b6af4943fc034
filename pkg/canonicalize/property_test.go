//go:build property
// +build property

package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/meridiancompliance/shield/pkg/canonicalize"
)

// TestCanonicalizationDeterministic verifies that canonicalizing the
// same logical payload twice always produces byte-identical output,
// regardless of map construction order.
func TestCanonicalizationDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical JSON is stable across repeated calls", prop.ForAll(
		func(keys []string, values []string) bool {
			payload := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					payload[keys[i]] = values[i]
				}
			}

			a, errA := canonicalize.JSON(payload)
			b, errB := canonicalize.JSON(payload)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalizationKeyOrderInvariant verifies that two maps built in
// different insertion orders but holding the same entries canonicalize
// to the same bytes.
func TestCanonicalizationKeyOrderInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical JSON is independent of map build order", prop.ForAll(
		func(a, b, c string) bool {
			forward := map[string]interface{}{"a": a, "b": b, "c": c}
			backward := map[string]interface{}{"c": c, "b": b, "a": a}

			jf, err1 := canonicalize.JSON(forward)
			jb, err2 := canonicalize.JSON(backward)
			if err1 != nil || err2 != nil {
				return false
			}
			return string(jf) == string(jb)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
