package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name     string
		question string
		k        int
		want     error
	}{
		{"empty question", "", 5, ErrEmptyQuery},
		{"whitespace question", " \n\t ", 5, ErrEmptyQuery},
		{"zero k", "hello", 0, ErrInvalidArgument},
		{"negative k", "hello", -3, ErrInvalidArgument},
		{"valid", "hello", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.question, tt.k)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateQuery() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{&LoadError{Locator: "x.txt", Cause: cause}, KindLoadFailure},
		{fmt.Errorf("wrapped: %w", &LoadError{Locator: "u", Cause: cause}), KindLoadFailure},
		{ErrEmptyQuery, KindEmptyInput},
		{InvalidArgument("k=%d", 0), KindInvalidArgument},
		{&DimensionError{Want: 3, Got: 4}, KindDimensionMismatch},
		{&PersistenceError{Op: "save", Path: "/tmp/x", Cause: cause}, KindPersistence},
		{cause, KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLoadErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("no such host")
	err := &LoadError{Locator: "http://x", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected LoadError to unwrap to its cause")
	}
	var le *LoadError
	if !errors.As(fmt.Errorf("ingest: %w", err), &le) || le.Locator != "http://x" {
		t.Errorf("errors.As failed, got %+v", le)
	}
}

func TestChunkSourceFallsBackToTag(t *testing.T) {
	c := Chunk{SourceTag: "notes"}
	if c.Source() != "notes" {
		t.Errorf("Source() = %q", c.Source())
	}
	c.Metadata = map[string]any{MetaSource: "a.txt"}
	if c.Source() != "a.txt" {
		t.Errorf("Source() = %q", c.Source())
	}
}
