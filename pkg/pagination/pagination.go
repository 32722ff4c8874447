package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// Params holds page-based pagination parameters extracted from a request.
type Params struct {
	Page    int
	PerPage int
}

// FromContext reads ?page= and ?per_page=. Missing or invalid values fall
// back to the first page of DefaultPerPage rows.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Limit is the SQL LIMIT for the page.
func (p Params) Limit() int { return p.PerPage }

// Offset is the SQL OFFSET for the page.
func (p Params) Offset() int { return (p.Page - 1) * p.PerPage }

// Window slices n rows down to the page, returning start and end indexes.
func (p Params) Window(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.PerPage
	if end > n {
		end = n
	}
	return start, end
}

// Response wraps a paginated API response.
type Response struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PerPage  int         `json:"per_page"`
	LastPage int         `json:"last_page"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	last := (total + p.PerPage - 1) / p.PerPage
	if last < 1 {
		last = 1
	}
	return &Response{
		Data:     data,
		Total:    total,
		Page:     p.Page,
		PerPage:  p.PerPage,
		LastPage: last,
	}
}
