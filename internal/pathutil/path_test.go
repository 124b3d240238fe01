package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", "."},
		{".", "."},
		{"a", "a"},
		{"a/b", "b"},
		{"a/b/", "b"},
		{"meta/contents", "contents"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Base(tt.in), tt.in)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", "."},
		{"/", "."},
		{"///", "."},
		{"a", "a"},
		{"/etc/nginx", "etc/nginx"},
		{"etc/nginx/", "etc/nginx"},
		{"etc//nginx", "etc/nginx"},
		{"a/../b", "a/../b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}
