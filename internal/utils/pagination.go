// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a validated 1-based page request.
type Page struct {
	Page int
	Size int
}

// Offset returns the number of items before the page.
func (p Page) Offset() int { return (p.Page - 1) * p.Size }

// ClampPage parses page and size, falling back to defaults on bad input and
// bounding size to [1, MaxPageSize].
func ClampPage(page, size string) Page {
	p := Page{
		Page: AtoiDefault(page, DefaultPage),
		Size: AtoiDefault(size, DefaultPageSize),
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty
// or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
