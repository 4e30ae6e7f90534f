package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 60))

	long := strings.Repeat("a", 70)
	got := truncate(long, 60)
	assert.Equal(t, strings.Repeat("a", 57)+"...", got)

	// Multibyte content must not be cut mid-rune.
	accented := strings.Repeat("ç", 70)
	got = truncate(accented, 60)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ç", 57)+"...", got)
}
