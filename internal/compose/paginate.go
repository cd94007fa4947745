package compose

import (
	"math"

	"github.com/raffaelramalhorosa/futurefeed/internal/models"
)

// normalizePage clamps page to >= 0 and size to >= 1.
func normalizePage(page, size int) (int, int) {
	return max(0, page), max(1, size)
}

// window returns the offset of page and the number of posts needed to fill
// pages 0..page. Both saturate at math.MaxInt instead of overflowing.
func window(page, size int) (offset, target int) {
	if page > (math.MaxInt-size)/size {
		return math.MaxInt, math.MaxInt
	}
	offset = page * size
	return offset, offset + size
}

// Paginate returns the page-th slice of size posts from pool. Pages past
// the end of the pool are empty, never an error.
func Paginate(pool []models.Post, page, size int) []models.Post {
	page, size = normalizePage(page, size)

	offset, end := window(page, size)
	if offset >= len(pool) {
		return []models.Post{}
	}
	return pool[offset:min(end, len(pool))]
}
