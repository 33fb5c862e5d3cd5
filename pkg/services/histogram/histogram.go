/*
2025 © Logset
*/

// Package histogram builds the chart companion of a run: a zero-filled
// bucket skeleton aligned to the chart interval, merged with one
// aggregation result per partition.
package histogram

import (
	"context"
	"sort"
	"time"

	"github.com/op/go-logging"

	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/sqlparse"
	"gitlab.com/logset/searchkit/pkg/transport"
)

var log = logging.MustGetLogger("histogram")

// MsgCancelled is surfaced in the histogram panel when the run is
// cancelled before any bucket was produced.
const MsgCancelled = "query was cancelled"

const (
	microsPerSecond = int64(time.Second / time.Microsecond)

	halfMinuteMicros = 30 * microsPerSecond
	hourMicros       = 3600 * microsPerSecond
	dayMicros        = 86400 * microsPerSecond
)

// AlignStart rounds a range start onto the bucket grid. The rounding
// rule depends on the interval granularity: second-sized intervals
// snap to :00/:30, minute-sized ones to the interval itself, hours to
// the top of the hour, days to the next UTC midnight.
func AlignStart(ts int64, interval models.Interval) int64 {
	switch {
	case interval.Seconds < 60:
		return ts - ts%halfMinuteMicros

	case interval.Seconds < 3600:
		return ts - ts%interval.Micros()

	case interval.Seconds < 86400:
		return ts - ts%hourMicros

	default:
		if ts%dayMicros == 0 {
			return ts
		}

		return ts - ts%dayMicros + dayMicros
	}
}

// Skeleton pre-allocates the ordered, zero-filled bucket sequence
// covering [start, end) at the chart interval.
func Skeleton(start, end int64, interval models.Interval) []models.HistogramBucket {
	if interval.Seconds <= 0 || end <= start {
		return nil
	}

	buckets := make([]models.HistogramBucket, 0, (end-start)/interval.Micros()+1)

	for key := AlignStart(start, interval); key < end; key += interval.Micros() {
		buckets = append(buckets, models.HistogramBucket{Key: key})
	}

	return buckets
}

// Merge folds (key, count) pairs into the skeleton, summing on key
// collision. Keys outside the skeleton are inserted in key order, so
// merging the same pairs twice doubles counts instead of duplicating
// entries.
func Merge(buckets []models.HistogramBucket, pairs []models.HistogramBucket) []models.HistogramBucket {
	index := make(map[int64]int, len(buckets))
	for i, b := range buckets {
		index[b.Key] = i
	}

	inserted := false

	for _, p := range pairs {
		if i, ok := index[p.Key]; ok {
			buckets[i].Count += p.Count
			continue
		}

		buckets = append(buckets, p)
		index[p.Key] = len(buckets) - 1
		inserted = true
	}

	if inserted {
		sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	}

	return buckets
}

// ParseBuckets reads (zo_sql_key, zo_sql_num) pairs out of result
// rows. Keys arrive as microsecond numbers or as timestamps in a
// couple of textual layouts, depending on the backend version.
func ParseBuckets(hits []models.Hit) []models.HistogramBucket {
	pairs := make([]models.HistogramBucket, 0, len(hits))

	for _, hit := range hits {
		key, ok := parseKey(hit[sqlparse.HistogramKeyAlias])
		if !ok {
			continue
		}

		pairs = append(pairs, models.HistogramBucket{
			Key:   key,
			Count: parseCount(hit[sqlparse.HistogramNumAlias]),
		})
	}

	return pairs
}

func parseKey(v interface{}) (int64, bool) {
	switch key := v.(type) {
	case float64:
		return int64(key), true

	case int64:
		return key, true

	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, key); err == nil {
				return t.UnixMicro(), true
			}
		}
	}

	return 0, false
}

func parseCount(v interface{}) int64 {
	switch count := v.(type) {
	case float64:
		return int64(count)

	case int64:
		return count
	}

	return 0
}

// Input is everything one histogram generation needs from the run.
type Input struct {
	// Query is the histogram QueryRequest; its time bounds are
	// rewritten in place before each per-partition fetch.
	Query    *models.QueryRequest
	Detail   *models.PartitionDetail
	Interval models.Interval

	// OrderAsc reverses the partition walk so the chart always fills
	// oldest to newest internally.
	OrderAsc bool

	Cancelled  func() bool
	NewTraceID func() string
}

// Generator issues one histogram query per partition and merges the
// results into the skeleton.
type Generator struct {
	searcher transport.Searcher
}

// NewGenerator creates a Generator on the active strategy.
func NewGenerator(searcher transport.Searcher) *Generator {
	return &Generator{searcher: searcher}
}

// Run executes the per-partition histogram loop. Failures of a single
// partition are logged and the loop continues; cancellation stops the
// loop at its head, keeping whatever buckets were already merged and
// surfacing a cancelled error only when none were.
func (g *Generator) Run(ctx context.Context, in Input) *models.HistogramResult {
	result := &models.HistogramResult{
		Buckets:  Skeleton(in.Query.StartTime, in.Query.EndTime, in.Interval),
		Interval: in.Interval,
	}

	partitions := make([][2]int64, len(in.Detail.Partitions))
	indexes := make([]int, len(in.Detail.Partitions))

	for i := range in.Detail.Partitions {
		pos := i
		if in.OrderAsc {
			pos = len(in.Detail.Partitions) - 1 - i
		}

		partitions[i] = in.Detail.Partitions[pos]
		indexes[i] = pos
	}

	merged := false

	for i, part := range partitions {
		if in.Cancelled() {
			if !merged {
				result.ErrMsg = MsgCancelled
			}

			return result
		}

		in.Query.StartTime = part[0]
		in.Query.EndTime = part[1]

		resp, err := g.searcher.Search(ctx, in.Query, in.NewTraceID())
		if err != nil {
			if transport.IsCancelled(err) {
				if !merged {
					result.ErrMsg = MsgCancelled
				}

				return result
			}

			// A failed partition only loses its own buckets.
			log.Errorf("histogram fetch failed for partition [%d, %d]: %v", part[0], part[1], err)
			continue
		}

		pairs := ParseBuckets(resp.Hits)
		if len(pairs) > 0 {
			result.Buckets = Merge(result.Buckets, pairs)
			merged = true
		}

		var partitionTotal int64
		for _, p := range pairs {
			partitionTotal += p.Count
		}

		in.Detail.SetTotal(indexes[i], partitionTotal)
	}

	return result
}
