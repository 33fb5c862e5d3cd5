/*
2025 © Logset
*/

package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/logset/searchkit/pkg/models"
)

func detailWithTotals(totals ...int64) *models.PartitionDetail {
	ranges := make([][2]int64, 0, len(totals))
	for i := range totals {
		start := int64(i) * 1_000_000
		ranges = append(ranges, [2]int64{start, start + 1_000_000})
	}

	d := models.NewPartitionDetail(ranges, 250)
	for i, t := range totals {
		d.PartitionTotal[i] = t
	}

	return d
}

func TestRefreshSubpageStitching(t *testing.T) {
	// Two partitions with 550 and 300 records at 250 rows per page:
	// page 3 must stitch the 50-record tail of partition 1 to the
	// first 200 records of partition 2.
	d := detailWithTotals(550, 300)

	Refresh(d, 250, 0, true)

	require.Len(t, d.Paginations, 4)

	assert.Equal(t, []models.PageSlice{
		{StartTime: 0, EndTime: 1_000_000, From: 0, Size: 250},
	}, d.Paginations[0])

	assert.Equal(t, []models.PageSlice{
		{StartTime: 0, EndTime: 1_000_000, From: 250, Size: 250},
	}, d.Paginations[1])

	assert.Equal(t, []models.PageSlice{
		{StartTime: 0, EndTime: 1_000_000, From: 500, Size: 50},
		{StartTime: 1_000_000, EndTime: 2_000_000, From: 0, Size: 200},
	}, d.Paginations[2])

	assert.Equal(t, []models.PageSlice{
		{StartTime: 1_000_000, EndTime: 2_000_000, From: 200, Size: 100},
	}, d.Paginations[3])
}

func TestRefreshPageSizeBound(t *testing.T) {
	d := detailWithTotals(127, 333, 58, 910)

	Refresh(d, 100, 0, true)

	require.NotEmpty(t, d.Paginations)

	for i, page := range d.Paginations {
		rows := PageRows(page)
		require.LessOrEqual(t, rows, 100, "page %d exceeds rowsPerPage", i)

		if i < len(d.Paginations)-1 {
			assert.Equal(t, 100, rows, "page %d is not full", i)
		}
	}
}

func TestRefreshUnknownTotalStopsDeepening(t *testing.T) {
	d := detailWithTotals(130, models.TotalUnknown, 500)

	Refresh(d, 100, 0, true)

	// Partition 1: pages [0-99], [100-129]. Partition 2 is unmeasured:
	// one best-effort slice tops up the open page, then planning stops
	// before partition 3.
	require.Len(t, d.Paginations, 2)

	last := d.Paginations[1]
	require.Len(t, last, 2)
	assert.Equal(t, 30, last[0].Size)
	assert.Equal(t, 70, last[1].Size)
	assert.Equal(t, int64(1_000_000), last[1].StartTime)
}

func TestRefreshLazyHorizon(t *testing.T) {
	d := detailWithTotals(10_000)

	Refresh(d, 100, 0, true)
	materialized := len(d.Paginations)
	require.Greater(t, materialized, 4)

	// Plenty of pages already materialized for page 0: a non-forced
	// refresh must not recompute.
	d.PartitionTotal[0] = 500
	Refresh(d, 100, 0, false)
	assert.Len(t, d.Paginations, materialized)

	// Viewing a deeper page moves the horizon and recomputes.
	Refresh(d, 100, materialized-2, false)
	assert.NotEqual(t, materialized, len(d.Paginations))
}

func TestRefreshBoundedLookahead(t *testing.T) {
	d := detailWithTotals(1_000_000)

	Refresh(d, 100, 0, true)

	// Lookahead stays near currentPage+10 instead of materializing all
	// ten thousand pages.
	assert.LessOrEqual(t, len(d.Paginations), 12)

	Refresh(d, 100, 40, true)
	assert.LessOrEqual(t, len(d.Paginations), 52)
	assert.Greater(t, len(d.Paginations), 40)
}

func TestRefreshSkipsEmptyPartitions(t *testing.T) {
	d := detailWithTotals(100, 0, 100)

	Refresh(d, 100, 0, true)

	require.Len(t, d.Paginations, 2)
	assert.Equal(t, int64(0), d.Paginations[0][0].StartTime)
	assert.Equal(t, int64(2_000_000), d.Paginations[1][0].StartTime)
}

func TestKnownTotalSumsMeasuredPartitions(t *testing.T) {
	d := detailWithTotals(550, models.TotalUnknown, 300)

	assert.Equal(t, int64(850), d.KnownTotal())
}

func TestCursor(t *testing.T) {
	page := []models.PageSlice{
		{From: 0, Size: 50},
		{From: 0, Size: 30},
	}

	var c Cursor

	first, ok := c.Next(page)
	require.True(t, ok)
	assert.Equal(t, 50, first.Size)

	c.Advance()

	second, ok := c.Next(page)
	require.True(t, ok)
	assert.Equal(t, 30, second.Size)

	c.Advance()

	_, ok = c.Next(page)
	assert.False(t, ok)

	c.Reset()
	assert.Equal(t, 0, c.Position())
}
