package common

import (
	"net/http"
	"strconv"
)

// Pagination is the metadata block of list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// PageRequest is a parsed ?page=&limit= pair.
type PageRequest struct {
	Page    int
	PerPage int
}

// Offset is the number of rows to skip.
func (p PageRequest) Offset() int { return (p.Page - 1) * p.PerPage }

// Meta builds the response metadata for total matching rows.
func (p PageRequest) Meta(total int) Pagination {
	return Pagination{Page: p.Page, PerPage: p.PerPage, TotalItems: total}
}

// ParsePagination reads page (1-based) and limit. Invalid values fall back to defaults and limit
// is capped at maxPerPage.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) PageRequest {
	q := r.URL.Query()
	p := PageRequest{Page: 1, PerPage: defaultPerPage}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.PerPage = min(n, maxPerPage)
	}
	return p
}
