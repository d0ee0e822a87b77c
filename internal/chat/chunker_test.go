package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsChunking(t *testing.T) {
	assert.False(t, NeedsChunking("short message"))
	assert.True(t, NeedsChunking(strings.Repeat("a", chunkCharThreshold+1)))
	assert.False(t, NeedsChunking(strings.Repeat("a", chunkCharThreshold)))
	assert.True(t, NeedsChunking(strings.Repeat("x\n", chunkLineThreshold)))
}

func TestSplitIntoWindowsParagraphBoundaries(t *testing.T) {
	p1 := strings.Repeat("a", 30)
	p2 := strings.Repeat("b", 30)
	p3 := strings.Repeat("c", 30)
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	windows := SplitIntoWindows(text, 70)
	require.Len(t, windows, 2)
	assert.Equal(t, p1+"\n\n"+p2, windows[0])
	assert.Equal(t, p3, windows[1])
}

func TestSplitIntoWindowsSmallInputSingleWindow(t *testing.T) {
	windows := SplitIntoWindows("one\n\ntwo", 100)
	require.Len(t, windows, 1)
	assert.Equal(t, "one\n\ntwo", windows[0])
}

func TestSplitIntoWindowsHardSplitsOversizedParagraph(t *testing.T) {
	big := strings.Repeat("z", 250)
	windows := SplitIntoWindows(big, 100)
	require.Len(t, windows, 3)
	assert.Equal(t, 100, len(windows[0]))
	assert.Equal(t, 100, len(windows[1]))
	assert.Equal(t, 50, len(windows[2]))
	assert.Equal(t, big, strings.Join(windows, ""))
}

func TestSplitIntoWindowsPreservesAllText(t *testing.T) {
	var parts []string
	for i := 0; i < 20; i++ {
		parts = append(parts, strings.Repeat(string(rune('a'+i)), 40))
	}
	text := strings.Join(parts, "\n\n")

	windows := SplitIntoWindows(text, 120)
	assert.Greater(t, len(windows), 1)
	for _, w := range windows {
		assert.LessOrEqual(t, len(w), 120)
	}
	assert.Equal(t, strings.ReplaceAll(text, "\n\n", ""), strings.ReplaceAll(strings.Join(windows, ""), "\n\n", ""))
}

func TestSplitIntoWindowsDefaultSize(t *testing.T) {
	windows := SplitIntoWindows("hello", 0)
	require.Len(t, windows, 1)
	assert.Equal(t, "hello", windows[0])
}
