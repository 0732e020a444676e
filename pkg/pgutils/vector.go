// Package pgutils holds Postgres helpers shared by the repositories:
// pgvector literal formatting and SQLSTATE classification.
package pgutils

import (
	"strconv"
	"strings"
)

// FormatVector renders a float32 slice as a pgvector input literal,
// e.g. "[0.1,0.2,0.3]". Queries bind the result as text and cast with
// ?::vector, since database/sql has no native vector type.
func FormatVector(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}

	var sb strings.Builder
	sb.Grow(len(v)*12 + 2)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
