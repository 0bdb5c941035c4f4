package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	req := require.New(t)
	req.Equal(RoomCode("ABC123"), NormalizeCode("abc123"))
	req.Equal(RoomCode("ABC123"), NormalizeCode("  ABC123  "))
	req.Equal(RoomCode("ABC123"), NormalizeCode("aBc123"))
}

func TestValidCode(t *testing.T) {
	req := require.New(t)
	req.True(ValidCode("ABC123", 6))
	req.True(ValidCode("ABC1O0", 6), "any uppercase alphanumeric code is well formed")
	req.True(ValidCode("ROOM01", 6))
	req.False(ValidCode("ABC12", 6), "too short")
	req.False(ValidCode("ABC1234", 6), "too long")
	req.False(ValidCode("abc123", 6), "lowercase is not canonical")
	req.False(ValidCode("ABC1 3", 6))
	req.False(ValidCode("ABC12!", 6))
}

func TestTruncateName(t *testing.T) {
	req := require.New(t)
	req.Equal("Alice", TruncateName("Alice"))
	req.Len(TruncateName(strings.Repeat("x", MaxDisplayNameLen+10)), MaxDisplayNameLen)

	// Truncation must land on a rune boundary, never mid-glyph.
	multi := TruncateName(strings.Repeat("참", MaxDisplayNameLen))
	req.True(utf8.ValidString(multi))
	req.LessOrEqual(len(multi), MaxDisplayNameLen)
	req.NotEmpty(multi)
}
