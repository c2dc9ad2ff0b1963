package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryRowDepth(t *testing.T) {
	assert.Equal(t, 0, CategoryRow{Path: ""}.Depth())
	assert.Equal(t, 1, CategoryRow{Path: "Food"}.Depth())
	assert.Equal(t, 3, CategoryRow{Path: "/Food/Snacks/Chips/"}.Depth())
}

func TestSubtreeIsParentUsesAnyDescendant(t *testing.T) {
	rows := []CategoryRow{
		{ID: "1", Name: "Food", Path: "Food"},
		{ID: "2", Name: "Snacks", Path: "Food/Snacks"},
		// no direct "Food/Drinks" row, only a deeper one
		{ID: "3", Name: "Soda", Path: "Food/Drinks/Soda"},
		{ID: "4", Name: "Snacks Mix", Path: "Food/Snacks Mix"},
	}
	st := NewSubtree("food", "food.csv", "1", "Food", rows)

	assert.True(t, st.IsParent(rows[0]))
	assert.False(t, st.IsParent(rows[1]), "Food/Snacks Mix is not a child of Food/Snacks")
	assert.False(t, st.IsParent(rows[2]))
	assert.False(t, st.IsParent(rows[3]))
	assert.True(t, st.IsParent(CategoryRow{Path: "Food/Drinks"}))

	eligible, skipped := st.Eligible(true)
	assert.Equal(t, 1, skipped)
	assert.Len(t, eligible, 3)

	all, skipped := st.Eligible(false)
	assert.Zero(t, skipped)
	assert.Len(t, all, 4)
}

func TestExitReasonCodes(t *testing.T) {
	assert.Equal(t, 0, ExitCompleted.ExitCode())
	assert.Equal(t, 130, ExitInterrupted.ExitCode())
	assert.Equal(t, 143, ExitTerminated.ExitCode())
	assert.Equal(t, 1, ExitFatal.ExitCode())
}
