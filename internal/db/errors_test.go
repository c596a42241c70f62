package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	err := eris.Wrap(&pgconn.PgError{Code: "23505", ConstraintName: "organizations_domains_key"}, "insert organization")
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23502"}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsIntegrityViolation(t *testing.T) {
	assert.True(t, IsIntegrityViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsIntegrityViolation(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsIntegrityViolation(&pgconn.PgError{Code: "22001"}))
	assert.False(t, IsIntegrityViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsIntegrityViolation(errors.New("check failed")))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"string too long", &pgconn.PgError{Code: "22001"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(eris.Wrap(tt.err, "commit")))
		})
	}
}
