package db

import (
	"strings"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page describes the pagination and ordering of a list query.
type Page struct {
	Number int
	Size   int
	Sort   string
	Desc   bool
	Search string
}

// Normalize clamps the page number and size to usable values.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	p.Sort = strings.TrimSpace(p.Sort)
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// Offset returns the number of rows to skip for the page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// Scope applies ordering, offset and limit. columns maps public sort keys to
// column names; unknown keys fall back to fallback.
func (p Page) Scope(columns map[string]string, fallback string) func(*gorm.DB) *gorm.DB {
	p = p.Normalize()
	return func(tx *gorm.DB) *gorm.DB {
		column, ok := columns[p.Sort]
		if !ok {
			column = fallback
		}
		dir := " ASC"
		if p.Desc {
			dir = " DESC"
		}
		return tx.Order(column + dir).Offset(p.Offset()).Limit(p.Size)
	}
}

// Result is one page of items with the total row count.
type Result[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"perPage"`
}

// NewResult builds a Result, replacing a nil items slice with an empty one.
func NewResult[T any](items []T, total int64, p Page) Result[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	return Result[T]{Items: items, Total: total, Page: p.Number, PerPage: p.Size}
}
