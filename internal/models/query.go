package models

import "strings"

// Query modes.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
)

// QueryRequest is a retrieval request. A nil K means the server default.
type QueryRequest struct {
	Question string `json:"question" validate:"required"`
	K        *int   `json:"k,omitempty"`
	Mode     string `json:"mode,omitempty" validate:"omitempty,oneof=vector hybrid"`
}

// ValidateQuery checks a question and result count.
// Blank questions are rejected before any embedding call; k must be positive.
func ValidateQuery(question string, k int) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuery
	}
	if k <= 0 {
		return InvalidArgument("k must be positive, got %d", k)
	}
	return nil
}
