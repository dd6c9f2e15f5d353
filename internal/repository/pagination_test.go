package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageClamping(t *testing.T) {
	tests := []struct {
		name       string
		number     int
		limit      int
		wantNumber int
		wantLimit  int
	}{
		{"zero value defaults", 0, 0, 1, DefaultPageSize},
		{"negative page floors to one", -3, 10, 1, 10},
		{"limit above max clamps", 2, 500, 2, MaxPageSize},
		{"valid values pass through", 4, 25, 4, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage(tt.number, tt.limit)
			assert.Equal(t, tt.wantNumber, p.Number)
			assert.Equal(t, tt.wantLimit, p.Limit)
		})
	}
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, NewPage(1, 20).Offset())
	assert.Equal(t, 40, NewPage(3, 20).Offset())
	assert.Equal(t, 0, Page{}.Offset())
}

func TestSliceWindowing(t *testing.T) {
	all := []int{1, 2, 3, 4, 5, 6, 7}

	t.Run("first page has more", func(t *testing.T) {
		r := Slice(all, NewPage(1, 3))
		assert.Equal(t, []int{1, 2, 3}, r.Items)
		assert.Equal(t, 7, r.PageInfo.Total)
		assert.True(t, r.PageInfo.HasMore)
	})

	t.Run("last partial page", func(t *testing.T) {
		r := Slice(all, NewPage(3, 3))
		assert.Equal(t, []int{7}, r.Items)
		assert.False(t, r.PageInfo.HasMore)
	})

	t.Run("page beyond the end is empty not nil", func(t *testing.T) {
		r := Slice(all, NewPage(9, 3))
		assert.NotNil(t, r.Items)
		assert.Empty(t, r.Items)
		assert.False(t, r.PageInfo.HasMore)
	})

	t.Run("exact boundary has no more", func(t *testing.T) {
		r := Slice([]int{1, 2, 3, 4}, NewPage(2, 2))
		assert.Equal(t, []int{3, 4}, r.Items)
		assert.False(t, r.PageInfo.HasMore)
	})
}
