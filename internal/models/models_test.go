package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterIsEmpty(t *testing.T) {
	assert.True(t, (*Filter)(nil).IsEmpty())
	assert.True(t, (&Filter{}).IsEmpty())
	assert.False(t, (&Filter{Tags: []string{"draft"}}).IsEmpty())
	assert.False(t, (&Filter{MIME: "text/markdown"}).IsEmpty())
}
