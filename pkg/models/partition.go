/*
2025 © Logset
*/

package models

// PartitionRequest is the payload of the partition-planning call.
type PartitionRequest struct {
	SQL       string   `json:"sql"`
	StartTime int64    `json:"start_time"`
	EndTime   int64    `json:"end_time"`
	SQLMode   string   `json:"sql_mode"`
	Regions   []string `json:"regions,omitempty"`
	Clusters  []string `json:"clusters,omitempty"`
}

// PartitionResponse is the backend's partitioning answer.
type PartitionResponse struct {
	Partitions    [][2]int64 `json:"partitions"`
	Records       int64      `json:"records"`
	StreamingAggs *bool      `json:"streaming_aggs,omitempty"`
	StreamingID   string     `json:"streaming_id,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
}

// TotalUnknown marks a partition whose record count has not been
// measured yet. It is replaced the first time a request touches the
// partition.
const TotalUnknown = int64(-1)

// PageSlice addresses one backend request worth of rows inside a
// partition. A logical page is an ordered list of slices because a
// page may stitch the tail of one partition to the head of the next.
type PageSlice struct {
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	From            int    `json:"from"`
	Size            int    `json:"size"`
	StreamingOutput bool   `json:"streaming_output,omitempty"`
	StreamingID     string `json:"streaming_id,omitempty"`
}

// PartitionDetail is the run-local partition plan. Partitions,
// PartitionTotal and Paginations are parallel: entry i of each
// describes the same partition. The detail is replaced wholesale at
// the start of every run, never merged.
type PartitionDetail struct {
	Partitions     [][2]int64
	PartitionTotal []int64
	Paginations    [][]PageSlice

	StreamingAggs   bool
	StreamingID     string
	DisablePaginate bool
}

// NewPartitionDetail seeds a detail from planned time ranges: every
// partition starts unmeasured with one best-effort slice.
func NewPartitionDetail(ranges [][2]int64, rowsPerPage int) *PartitionDetail {
	d := &PartitionDetail{
		Partitions:     make([][2]int64, 0, len(ranges)),
		PartitionTotal: make([]int64, 0, len(ranges)),
		Paginations:    make([][]PageSlice, 0, len(ranges)),
	}

	for _, r := range ranges {
		d.Partitions = append(d.Partitions, r)
		d.PartitionTotal = append(d.PartitionTotal, TotalUnknown)
		d.Paginations = append(d.Paginations, []PageSlice{{
			StartTime: r[0],
			EndTime:   r[1],
			From:      0,
			Size:      rowsPerPage,
		}})
	}

	return d
}

// KnownTotal sums the totals of all measured partitions; unmeasured
// partitions contribute zero until a request touches them.
func (d *PartitionDetail) KnownTotal() int64 {
	var total int64

	for _, t := range d.PartitionTotal {
		if t > 0 {
			total += t
		}
	}

	return total
}

// PartitionIndexOf locates the partition a slice belongs to by its
// time bounds. Returns -1 when the slice matches no planned partition.
func (d *PartitionDetail) PartitionIndexOf(slice PageSlice) int {
	for i, p := range d.Partitions {
		if p[0] <= slice.StartTime && slice.EndTime <= p[1] {
			return i
		}
	}

	return -1
}

// SetTotal records a measured record count for partition i.
func (d *PartitionDetail) SetTotal(i int, total int64) {
	if i < 0 || i >= len(d.PartitionTotal) {
		return
	}

	d.PartitionTotal[i] = total
}
