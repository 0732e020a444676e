// Package mathutil holds small numeric helpers shared by the HTTP and
// pipeline layers.
package mathutil

// ClampInt restricts value to the inclusive range [min, max].
func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClampLimit normalizes a caller-supplied page size: non-positive
// values become def, values above max are capped.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
