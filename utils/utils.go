// Package utils provides utility functions for the application.
package utils

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

// Paginate normalizes a 1-based page and a page size into limit and offset.
// Out of range sizes fall back to the provided default.
func Paginate(page, pageSize, defaultSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = defaultSize
	}
	return pageSize, (page - 1) * pageSize
}
