package db

import (
	"context"
	"testing"
	"time"
)

func TestNewWithInvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := New(ctx, "postgres://invalid:5432/nonexistent?connect_timeout=1")
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestNewWithUnparseableURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz")
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
