package store

import (
	"fmt"
	"strings"
)

// ValidatePagination enforces §4.B/§8's pagination contract: page and size
// must both be positive. A caller-supplied 0 (or negative value) is a
// BadRequest, not silently clamped to a default. maxSize, when > 0, rejects
// a size above it (§4.B's attachment filter caps size at 100; memory
// filtering has no such ceiling, so callers pass 0 there).
func ValidatePagination(page, size, maxSize int) error {
	if page < 1 {
		return &ValidationError{Field: "page", Message: "must be >= 1"}
	}
	if size < 1 {
		return &ValidationError{Field: "size", Message: "must be >= 1"}
	}
	if maxSize > 0 && size > maxSize {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("must be <= %d", maxSize)}
	}
	return nil
}

// ValidateSort enforces that sortColumn, when set, is one of allowedColumns
// and sortDirection, when set, is "asc" or "desc" (case-insensitive).
func ValidateSort(sortColumn string, allowedColumns []string, sortDirection string) error {
	if sortColumn != "" {
		ok := false
		for _, c := range allowedColumns {
			if sortColumn == c {
				ok = true
				break
			}
		}
		if !ok {
			return &ValidationError{Field: "sort_column", Message: fmt.Sprintf("must be one of %v", allowedColumns)}
		}
	}
	if sortDirection != "" && !strings.EqualFold(sortDirection, "asc") && !strings.EqualFold(sortDirection, "desc") {
		return &ValidationError{Field: "sort_direction", Message: "must be asc or desc"}
	}
	return nil
}
