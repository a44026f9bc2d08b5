package utils

import (
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// GetPaginationDetails reads the limit and page query parameters and returns
// (limit, offset, page). Limit is clamped to maxPageSize so a caller cannot
// pull the whole transaction history in one request.
func GetPaginationDetails(r *http.Request) (int, int, int) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	page := queryInt(r, "page", 1)
	return limit, (page - 1) * limit, page
}

func queryInt(r *http.Request, key string, fallback int) int {
	val, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
