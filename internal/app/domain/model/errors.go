package model

import "errors"

// Validation errors for QueryRequest (spec.md §3, §8 boundary behaviors).
var (
	ErrInvalidEngine   = errors.New("query request: target engine is invalid or unset")
	ErrEmptyCategories = errors.New("query request: categories must be non-empty")
	ErrCountOutOfRange = errors.New("query request: requested count must be between 1 and 50")
)
