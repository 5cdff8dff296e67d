package dataprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorpulse/pkg/contracts/domain"
)

func TestBuildPivot_Aggregation(t *testing.T) {
	rows := []domain.NormalizedRow{
		total("Total Alice", "2021_FY", 100),
		total("Total Alice", "2021_FY", 50),
		detail("Alice", "General", "2021_FY", 999),
		total("Total Bob", "2022_FY", 30),
	}

	pivot := BuildPivot(rows)
	assert.Equal(t, []string{"Alice", "Bob"}, pivot.Donors)
	assert.Equal(t, []string{"2021_FY", "2022_FY"}, pivot.Columns)
	assert.Equal(t, domain.OrderingChronological, pivot.Ordering)
	assertDecimal(t, "150", pivot.Value("Alice", "2021_FY"))
	assertDecimal(t, "0", pivot.Value("Alice", "2022_FY"))
	assertDecimal(t, "0", pivot.Value("Bob", "2021_FY"))
	assertDecimal(t, "150", pivot.Total("Alice"))
	assertDecimal(t, "150", pivot.Max("Alice"))
	assert.Equal(t, []string{"2022_FY", "2021_FY"}, pivot.Display())
}

func TestBuildPivotAndDelta_Ordering(t *testing.T) {
	rows := []domain.NormalizedRow{
		total("Total Alice", "2023_x", 120),
		total("Total Alice", "2021_x", 100),
		total("Total Alice", "2022_x", 150),
	}

	pivot, delta := BuildPivotAndDelta(rows)
	assert.Equal(t, []string{"2021_x", "2022_x", "2023_x"}, pivot.Chronological())
	assert.Equal(t, []string{"2023_x", "2022_x"}, delta.Columns)
	assertDecimal(t, "-30", delta.Value("Alice", "2023_x"))
	assertDecimal(t, "50", delta.Value("Alice", "2022_x"))
	_, hasEarliest := delta.Cells["Alice"]["2021_x"]
	assert.False(t, hasEarliest)
}

func TestBuildPivot_FallbackOrdering(t *testing.T) {
	rows := []domain.NormalizedRow{
		total("Total Alice", "2022_FY", 10),
		total("Total Alice", "Adjustments", 5),
		total("Total Alice", "2021_FY", 20),
	}

	pivot, delta := BuildPivotAndDelta(rows)
	assert.Equal(t, domain.OrderingInsertion, pivot.Ordering)
	assert.Equal(t, []string{"2022_FY", "Adjustments", "2021_FY"}, pivot.Columns)
	assert.Equal(t, pivot.Columns, pivot.Display())
	assert.Equal(t, []string{"2021_FY", "Adjustments"}, delta.Columns)
	assertDecimal(t, "15", delta.Value("Alice", "2021_FY"))
	assertDecimal(t, "-5", delta.Value("Alice", "Adjustments"))
}

func TestBuildPivot_Empty(t *testing.T) {
	pivot, delta := BuildPivotAndDelta(nil)
	assert.Empty(t, pivot.Donors)
	assert.Empty(t, pivot.Columns)
	assert.Empty(t, delta.Columns)

	single, singleDelta := BuildPivotAndDelta([]domain.NormalizedRow{total("Total Alice", "2021_FY", 10)})
	require.Len(t, single.Columns, 1)
	assert.Empty(t, singleDelta.Columns)
	assert.Equal(t, []string{"Alice"}, singleDelta.Donors)
}
