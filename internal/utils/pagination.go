// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds normalizes raw page/size query values into a (offset, limit)
// pair. Page is 1-based; sizes are clamped to [1, maxSize].
func PageBounds(rawPage, rawSize string, defSize, maxSize int) (offset, limit int) {
	page := AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size := AtoiDefault(rawSize, defSize)
	if size < 1 {
		size = defSize
	}
	if size > maxSize {
		size = maxSize
	}
	return (page - 1) * size, size
}

// TotalPages returns how many pages of the given size a total row count
// occupies. Zero rows is one (empty) page.
func TotalPages(total int64, size int) int {
	if size < 1 {
		return 1
	}
	pages := int((total + int64(size) - 1) / int64(size))
	if pages < 1 {
		return 1
	}
	return pages
}
