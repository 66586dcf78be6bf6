package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWikipediaOriginal(t *testing.T) {
	original, ok := WikipediaOriginal(
		"https://upload.wikimedia.org/wikipedia/commons/thumb/a/ab/Example.jpg/250px-Example.jpg")
	assert.True(t, ok)
	assert.Equal(t, "https://upload.wikimedia.org/wikipedia/commons/a/ab/Example.jpg", original)
}

func TestWikipediaOriginalNonThumb(t *testing.T) {
	_, ok := WikipediaOriginal("https://upload.wikimedia.org/wikipedia/commons/a/ab/Example.jpg")
	assert.False(t, ok)

	_, ok = WikipediaOriginal("https://cdn.test/thumb/a/ab/x.jpg/250px-x.jpg")
	assert.False(t, ok, "non-wikipedia hosts are not mapped")
}
