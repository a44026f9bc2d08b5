package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNaira(t *testing.T) {
	tests := []struct {
		kobo int64
		want string
	}{
		{0, "₦0.00"},
		{1500, "₦15.00"},
		{100_000, "₦1,000.00"},
		{123_456_789, "₦1,234,567.89"},
		{-250, "-₦2.50"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatNaira(tt.kobo))
	}
}
