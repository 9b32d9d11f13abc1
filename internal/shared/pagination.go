package shared

// Page size bounds for list endpoints.
const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// NormalizePage clamps page and perPage into their valid ranges.
func NormalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return page, perPage
}

// Window returns the LIMIT/OFFSET pair for a page.
func Window(page, perPage int) (limit, offset int) {
	page, perPage = NormalizePage(page, perPage)
	return perPage, (page - 1) * perPage
}

// NewPagination computes page metadata for total rows.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = NormalizePage(page, perPage)
	pages := (total + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: pages, HasNext: page < pages}
}
