package db

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsNoRows(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"package sentinel", ErrNoRows, true},
		{"wrapped", fmt.Errorf("getting chat: %w", ErrNoRows), true},
		{"database/sql driver error", sql.ErrNoRows, false},
		{"pgx driver error", pgx.ErrNoRows, false},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := IsNoRows(tt.err); got != tt.want {
			t.Errorf("IsNoRows(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsPostgresURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"postgres://u:p@localhost/jishobot", true},
		{"postgresql://localhost/jishobot", true},
		{"./jishobot.db", false},
		{"sqlite://jishobot.db", false},
		{":memory:", false},
	}
	for _, tt := range tests {
		if got := IsPostgresURL(tt.url); got != tt.want {
			t.Errorf("IsPostgresURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
