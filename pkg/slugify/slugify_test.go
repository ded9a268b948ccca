package slugify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Luna the Fox", "luna-the-fox"},
		{"Café Étoile", "cafe-etoile"},
		{"  spaced   out  ", "spaced-out"},
		{"ALLCAPS", "allcaps"},
		{"emoji ✨ dragon", "emoji-dragon"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, From(tt.in), "input %q", tt.in)
	}
}
