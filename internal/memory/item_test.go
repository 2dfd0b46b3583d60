package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItem(t *testing.T) {
	item, err := NewItem("  Remember my flight is at 7am  ", CategoryTask, "session-1", SourceUser)
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "Remember my flight is at 7am", item.Content)
	assert.Equal(t, CategoryTask, item.Category)
	assert.Equal(t, "session-1", item.Scope)
	assert.WithinDuration(t, time.Now().UTC(), item.CreatedAt, time.Minute)
}

func TestNewItemValidation(t *testing.T) {
	_, err := NewItem("   ", CategoryTask, "s", SourceUser)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewItem("content", CategoryTask, "", SourceUser)
	assert.ErrorIs(t, err, ErrEmptyScope)

	_, err = NewItem(strings.Repeat("x", MaxContentLength+1), CategoryTask, "s", SourceUser)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewItemDefaults(t *testing.T) {
	item, err := NewItem("content", "", "s", "")
	require.NoError(t, err)
	assert.Equal(t, CategoryGeneral, item.Category)
	assert.Equal(t, SourceUser, item.Source)
}

func TestMetadataOrder(t *testing.T) {
	m := NewMetadata()
	m.Set("b", "2")
	m.Set("a", "1")
	m.Set("b", "3") // overwrite keeps original position

	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, 2, m.Len())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestGatingDecisionString(t *testing.T) {
	d := Reject(CategoryGeneral, 0.2, ReasonBelowConfidence)
	assert.Contains(t, d.String(), "reject")
	assert.Contains(t, d.String(), ReasonBelowConfidence)

	a := Accept(CategoryTask, 0.9, PlaceLongTerm, ReasonRuleAccept)
	assert.Contains(t, a.String(), "accept")
}
