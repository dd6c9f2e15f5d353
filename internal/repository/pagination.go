package repository

// Page carries offset pagination parameters. The zero value is valid
// and resolves to the first page at the default size.
type Page struct {
	Number int `json:"page"`
	Limit  int `json:"limit"`
}

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NewPage clamps raw request values into a valid page.
func NewPage(number, limit int) Page {
	return Page{Number: number, Limit: limit}.Clamped()
}

// Clamped returns the page with number floored at 1 and limit forced
// into [1, MaxPageSize], defaulting when unset.
func (p Page) Clamped() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	c := p.Clamped()
	return (c.Number - 1) * c.Limit
}

// PageInfo is the pagination metadata attached to every paged response.
type PageInfo struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// PaginatedResult is one page of items plus its metadata.
type PaginatedResult[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"pageInfo"`
}

// NewPaginatedResult assembles a page response. hasMore is derived from
// the requested window against the filtered total.
func NewPaginatedResult[T any](items []T, page Page, total int) *PaginatedResult[T] {
	c := page.Clamped()
	if items == nil {
		items = []T{}
	}
	return &PaginatedResult[T]{
		Items: items,
		PageInfo: PageInfo{
			Page:    c.Number,
			Limit:   c.Limit,
			Total:   total,
			HasMore: c.Number*c.Limit < total,
		},
	}
}

// Slice applies the page window to an in-memory list and wraps the
// result. Used by implementations that filter before paging.
func Slice[T any](all []T, page Page) *PaginatedResult[T] {
	c := page.Clamped()
	total := len(all)
	start := c.Offset()
	if start > total {
		start = total
	}
	end := start + c.Limit
	if end > total {
		end = total
	}
	return NewPaginatedResult(all[start:end], c, total)
}
