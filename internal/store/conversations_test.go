package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromMessage(t *testing.T) {
	assert.Equal(t, "Hello world", TitleFromMessage("  Hello world  "))
	assert.Equal(t, "First line", TitleFromMessage("First line\nsecond line\nthird"))
	assert.Equal(t, "", TitleFromMessage("   \n\n  "))

	long := strings.Repeat("a", 80)
	assert.Equal(t, strings.Repeat("a", 50), TitleFromMessage(long))

	// Truncation counts runes, not bytes.
	cjk := strings.Repeat("语", 60)
	assert.Equal(t, strings.Repeat("语", 50), TitleFromMessage(cjk))
}
