/*
2025 © Logset
*/

// Package pagination materializes logical pages from partition record
// counts. A logical page is a list of (partition, from, size) slices:
// when a partition's remaining records cannot fill a page, the next
// partition's first slice tops the page up, so one page may stitch the
// tail of partition A to the head of partition B.
package pagination

import (
	"gitlab.com/logset/searchkit/pkg/models"
)

// Lookahead bounds of the materialized page table, relative to the
// page currently viewed.
const (
	refreshHorizon   = 3
	materializeLimit = 10
)

// Refresh rewrites detail.Paginations in place. Recomputation is
// skipped while at least currentPage+3 pages are already materialized,
// unless force is set (a fetch returned an unexpected row count).
// currentPage is zero-based.
func Refresh(detail *models.PartitionDetail, rowsPerPage, currentPage int, force bool) {
	if detail == nil || rowsPerPage <= 0 {
		return
	}

	if !force && len(detail.Paginations) > currentPage+refreshHorizon {
		return
	}

	pages := make([][]models.PageSlice, 0, currentPage+materializeLimit)

	for i, part := range detail.Partitions {
		if len(pages) > currentPage+materializeLimit {
			break
		}

		total := detail.PartitionTotal[i]
		if total == 0 {
			continue
		}

		if total == models.TotalUnknown {
			// Unmeasured partition: one best-effort slice, then stop
			// deepening. Its total is filled in when a fetch actually
			// touches it, which forces a recompute.
			pages = appendSlice(pages, bestEffortSlice(part, rowsPerPage, pages, detail), rowsPerPage)
			break
		}

		pages = materializePartition(pages, part, int(total), rowsPerPage, currentPage, detail)
	}

	detail.Paginations = pages
}

// materializePartition splits one measured partition into slices,
// topping up the previous logical page before opening new ones.
func materializePartition(pages [][]models.PageSlice, part [2]int64, total, rowsPerPage, currentPage int,
	detail *models.PartitionDetail) [][]models.PageSlice {
	from := 0
	remaining := total

	if room := lastPageRoom(pages, rowsPerPage); room > 0 && remaining > 0 {
		take := room
		if remaining < take {
			take = remaining
		}

		pages = appendSlice(pages, newSlice(part, from, take, detail), rowsPerPage)
		from += take
		remaining -= take
	}

	for remaining > 0 && len(pages) <= currentPage+materializeLimit {
		take := rowsPerPage
		if remaining < take {
			take = remaining
		}

		pages = append(pages, []models.PageSlice{newSlice(part, from, take, detail)})
		from += take
		remaining -= take
	}

	return pages
}

// bestEffortSlice sizes the unmeasured partition's slice to the room
// left on the open page so the page-size bound holds.
func bestEffortSlice(part [2]int64, rowsPerPage int, pages [][]models.PageSlice,
	detail *models.PartitionDetail) models.PageSlice {
	size := rowsPerPage
	if room := lastPageRoom(pages, rowsPerPage); room > 0 {
		size = room
	}

	return newSlice(part, 0, size, detail)
}

func newSlice(part [2]int64, from, size int, detail *models.PartitionDetail) models.PageSlice {
	return models.PageSlice{
		StartTime:       part[0],
		EndTime:         part[1],
		From:            from,
		Size:            size,
		StreamingOutput: detail.StreamingAggs,
		StreamingID:     detail.StreamingID,
	}
}

// appendSlice adds a slice to the open page when it still has room,
// otherwise starts a new page.
func appendSlice(pages [][]models.PageSlice, slice models.PageSlice, rowsPerPage int) [][]models.PageSlice {
	if lastPageRoom(pages, rowsPerPage) > 0 {
		pages[len(pages)-1] = append(pages[len(pages)-1], slice)
		return pages
	}

	return append(pages, []models.PageSlice{slice})
}

// lastPageRoom returns how many rows the open page still accepts.
func lastPageRoom(pages [][]models.PageSlice, rowsPerPage int) int {
	if len(pages) == 0 {
		return 0
	}

	room := rowsPerPage - PageRows(pages[len(pages)-1])
	if room < 0 {
		return 0
	}

	return room
}

// PageRows sums the slice sizes of one logical page.
func PageRows(page []models.PageSlice) int {
	var rows int
	for _, s := range page {
		rows += s.Size
	}

	return rows
}

// Cursor is the subpage cursor: the index of the next slice to fetch
// within the current logical page. It is reset at the start of every
// top-level run and advanced after each consumed slice.
type Cursor struct {
	next int
}

// Reset rewinds the cursor for a new run.
func (c *Cursor) Reset() {
	c.next = 0
}

// Position returns the index of the next slice to fetch.
func (c *Cursor) Position() int {
	return c.next
}

// Advance moves past the slice just consumed.
func (c *Cursor) Advance() {
	c.next++
}

// Next returns the slice the cursor points at, if the page has one
// left unconsumed.
func (c *Cursor) Next(page []models.PageSlice) (models.PageSlice, bool) {
	if c.next >= len(page) {
		return models.PageSlice{}, false
	}

	return page[c.next], true
}
