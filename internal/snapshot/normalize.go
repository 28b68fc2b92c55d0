package snapshot

import (
	"encoding/json"
	"math"
	"time"
)

// Comparison helpers used by the synchronizer's Modified classification.
// Each field type gets an explicit equality function so textual
// representation, map key order, or timezone never cause false positives.

const numberEpsilon = 1e-9

// EqualNumber compares numeric fields by parsed value.
func EqualNumber(a, b float64) bool {
	return math.Abs(a-b) < numberEpsilon
}

// EqualInstant compares date fields by canonical instant.
func EqualInstant(a, b time.Time) bool {
	return a.UTC().Equal(b.UTC())
}

// CanonicalJSON renders a value as JSON with recursively sorted object keys
// and normalized numbers, suitable for structural equality checks.
func CanonicalJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	// Round-trip through interface{} so maps re-marshal with sorted keys and
	// all numbers collapse to their parsed value.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}

	return string(canonical), nil
}

// EqualJSON compares two values by canonical JSON form.
func EqualJSON(a, b interface{}) bool {
	canonicalA, errA := CanonicalJSON(a)
	canonicalB, errB := CanonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return canonicalA == canonicalB
}
