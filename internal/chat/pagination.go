package chat

import "math"

const (
	DefaultPerPage = 50
	MaxPerPage     = 100
	// MaxPage keeps (page-1)*perPage within int
	MaxPage = math.MaxInt / MaxPerPage
)

// Pagination describes one page of a conversation history
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// normalizePage clamps page to [1, MaxPage] and perPage to [1, MaxPerPage], using DefaultPerPage for non-positive values
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func newPagination(page, perPage, total int) Pagination {
	return Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
	}
}
