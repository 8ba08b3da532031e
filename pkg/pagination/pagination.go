package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 50
)

// Params holds pagination parameters extracted from a request. Pages are
// 1-based; SkipPaging disables limit/offset entirely and overrides
// Page/PageSize. TotalPages requests a full count query alongside the data
// query.
type Params struct {
	Page       int
	PageSize   int
	SkipPaging bool
	TotalPages bool

	// OverFetch widens the query limit by one row past the page so the
	// caller can detect a next page without a count query. It never
	// affects the offset: offsets are always computed from the
	// caller-visible page size.
	OverFetch bool
}

// FromContext extracts pagination parameters from the echo context,
// applying platform defaults.
func FromContext(c echo.Context) Params {
	p := Params{}
	p.Page, _ = strconv.Atoi(c.QueryParam("page"))
	p.PageSize, _ = strconv.Atoi(c.QueryParam("pageSize"))
	p.SkipPaging, _ = strconv.ParseBool(c.QueryParam("skipPaging"))
	p.TotalPages, _ = strconv.ParseBool(c.QueryParam("totalPages"))
	return p.WithDefaults()
}

// WithDefaults returns a copy of p with page and page size normalized to
// the platform defaults.
func (p Params) WithDefaults() Params {
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

// Offset returns the row offset for the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit returns the query row limit: the page size, plus the extra
// look-ahead row when over-fetching.
func (p Params) Limit() int {
	if p.OverFetch {
		return p.PageSize + 1
	}
	return p.PageSize
}

// Pager describes the page of results returned to the caller. When the
// caller did not request total counting, Total and PageCount are zero and
// IsLast is derived from an over-fetch of one row past the page boundary.
type Pager struct {
	Page      int  `json:"page"`
	PageSize  int  `json:"pageSize"`
	Total     int  `json:"total,omitempty"`
	PageCount int  `json:"pageCount,omitempty"`
	IsLast    bool `json:"isLast"`
}

// NewPager builds a pager from a full count query result.
func NewPager(page, pageSize, total int) *Pager {
	pageCount := total / pageSize
	if total%pageSize != 0 {
		pageCount++
	}
	if pageCount == 0 {
		pageCount = 1
	}
	return &Pager{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		PageCount: pageCount,
		IsLast:    page >= pageCount,
	}
}

// NewSlimPager builds a pager without a total count. isLast comes from
// over-fetching one extra row: if the store returned more than pageSize
// rows there is a next page.
func NewSlimPager(page, pageSize int, isLast bool) *Pager {
	return &Pager{Page: page, PageSize: pageSize, IsLast: isLast}
}
