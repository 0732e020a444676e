package pgutils

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pgx style", errors.New(`ERROR: duplicate key value violates unique constraint "job_chunks_job_id_chunk_index_key" (SQLSTATE 23505)`), true},
		{"wrapped", fmt.Errorf("insert chunks: %w", errors.New("SQLSTATE 23505")), true},
		{"foreign key is not unique", errors.New("SQLSTATE 23503"), false},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	err := errors.New(`ERROR: insert or update on table "job_chunks" violates foreign key constraint "job_chunks_job_id_fkey" (SQLSTATE 23503)`)
	if !IsForeignKeyViolation(err) {
		t.Error("expected foreign key violation to match")
	}
	if IsForeignKeyViolation(errors.New("SQLSTATE 23505")) {
		t.Error("unique violation should not match")
	}
	if IsForeignKeyViolation(nil) {
		t.Error("nil should not match")
	}
}
