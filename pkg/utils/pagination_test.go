package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPaginationDetails(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
		wantPage   int
	}{
		{"defaults", "/transactions", 10, 0, 1},
		{"explicit page", "/transactions?limit=20&page=3", 20, 40, 3},
		{"limit clamped", "/transactions?limit=500", 100, 0, 1},
		{"garbage falls back", "/transactions?limit=abc&page=-2", 10, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, page := GetPaginationDetails(httptest.NewRequest("GET", tt.target, nil))
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantPage, page)
		})
	}
}
