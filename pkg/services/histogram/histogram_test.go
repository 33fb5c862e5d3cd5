/*
2025 © Logset
*/

package histogram

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/transport"
)

func interval(seconds int64) models.Interval {
	return models.Interval{Seconds: seconds}
}

func TestAlignStart(t *testing.T) {
	base := time.Date(2024, 3, 10, 14, 42, 17, 0, time.UTC)

	testCases := []struct {
		caseName string
		interval models.Interval
		expected time.Time
	}{
		{
			caseName: "seconds snap to half minute",
			interval: interval(10),
			expected: time.Date(2024, 3, 10, 14, 42, 0, 0, time.UTC),
		},
		{
			caseName: "minutes snap to the interval",
			interval: interval(5 * 60),
			expected: time.Date(2024, 3, 10, 14, 40, 0, 0, time.UTC),
		},
		{
			caseName: "hours snap to top of hour",
			interval: interval(60 * 60),
			expected: time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			caseName: "days snap to next UTC midnight",
			interval: interval(24 * 60 * 60),
			expected: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Log(tc.caseName)

		assert.Equal(t, tc.expected.UnixMicro(), AlignStart(base.UnixMicro(), tc.interval))
	}
}

func TestSkeletonCoversRange(t *testing.T) {
	start := time.Date(2024, 3, 10, 14, 0, 7, 0, time.UTC).UnixMicro()
	end := time.Date(2024, 3, 10, 14, 5, 0, 0, time.UTC).UnixMicro()

	buckets := Skeleton(start, end, interval(30))

	require.Len(t, buckets, 10)
	assert.Equal(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC).UnixMicro(), buckets[0].Key)

	for i, b := range buckets {
		assert.Zero(t, b.Count)

		if i > 0 {
			assert.Equal(t, int64(30_000_000), b.Key-buckets[i-1].Key)
		}
	}
}

func TestMergeIdempotentShape(t *testing.T) {
	buckets := Skeleton(0, 100_000_000, interval(10))
	key := buckets[1].Key

	pairs := []models.HistogramBucket{{Key: key, Count: 7}}

	buckets = Merge(buckets, pairs)
	buckets = Merge(buckets, pairs)

	// Same key merged twice doubles the count, no duplicate entries.
	occurrences := 0
	for _, b := range buckets {
		if b.Key == key {
			occurrences++
			assert.Equal(t, int64(14), b.Count)
		}
	}

	assert.Equal(t, 1, occurrences)
}

func TestMergeInsertsUnknownKeysInOrder(t *testing.T) {
	buckets := []models.HistogramBucket{{Key: 10}, {Key: 30}}

	buckets = Merge(buckets, []models.HistogramBucket{{Key: 20, Count: 5}})

	require.Len(t, buckets, 3)
	assert.Equal(t, int64(20), buckets[1].Key)
}

func TestParseBucketsKeyForms(t *testing.T) {
	hits := []models.Hit{
		{"zo_sql_key": float64(1_700_000_000_000_000), "zo_sql_num": float64(3)},
		{"zo_sql_key": "2024-03-10T14:00:00", "zo_sql_num": float64(2)},
		{"zo_sql_key": true, "zo_sql_num": float64(9)}, // unparseable key dropped
	}

	pairs := ParseBuckets(hits)

	require.Len(t, pairs, 2)
	assert.Equal(t, int64(1_700_000_000_000_000), pairs[0].Key)
	assert.Equal(t, int64(3), pairs[0].Count)
	assert.Equal(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC).UnixMicro(), pairs[1].Key)
}

// fakeSearcher answers histogram queries per partition key.
type fakeSearcher struct {
	visited   [][2]int64
	responses map[int64]*models.SearchResponse
	errOn     map[int64]error
	onCall    func()
}

func (f *fakeSearcher) Search(_ context.Context, q *models.QueryRequest, _ string) (*models.SearchResponse, error) {
	f.visited = append(f.visited, [2]int64{q.StartTime, q.EndTime})

	if f.onCall != nil {
		f.onCall()
	}

	if err, ok := f.errOn[q.StartTime]; ok {
		return nil, err
	}

	if resp, ok := f.responses[q.StartTime]; ok {
		return resp, nil
	}

	return &models.SearchResponse{}, nil
}

func (f *fakeSearcher) Cancel(context.Context, string) error { return nil }
func (f *fakeSearcher) Close() error                         { return nil }

func never() bool { return false }

func traceIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("trace-%d", n)
	}
}

func histogramInput(detail *models.PartitionDetail, asc bool) Input {
	return Input{
		Query: &models.QueryRequest{
			SQL:       models.SQLSource{"SELECT histogram(_timestamp, '10 second') AS zo_sql_key, count(*) AS zo_sql_num FROM \"default\" GROUP BY zo_sql_key ORDER BY zo_sql_key"},
			StartTime: 100,
			EndTime:   300,
			Size:      models.SizeAllRows,
		},
		Detail:     detail,
		Interval:   interval(10),
		OrderAsc:   asc,
		Cancelled:  never,
		NewTraceID: traceIDs(),
	}
}

func TestGeneratorVisitsPartitionsNewestFirstByDefault(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{100, 200}, {200, 300}}, 50)
	searcher := &fakeSearcher{}

	NewGenerator(searcher).Run(context.Background(), histogramInput(detail, false))

	require.Equal(t, [][2]int64{{100, 200}, {200, 300}}, searcher.visited)
}

func TestGeneratorReversesPartitionsForAscOrder(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{100, 200}, {200, 300}}, 50)
	searcher := &fakeSearcher{}

	NewGenerator(searcher).Run(context.Background(), histogramInput(detail, true))

	// Ascending timestamp order walks partitions newest range last in
	// the plan, so the walk is reversed.
	require.Equal(t, [][2]int64{{200, 300}, {100, 200}}, searcher.visited)
}

func TestGeneratorMergesAndUpdatesPartitionTotals(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{0, 50_000_000}, {50_000_000, 100_000_000}}, 50)

	searcher := &fakeSearcher{responses: map[int64]*models.SearchResponse{
		0: {Hits: []models.Hit{
			{"zo_sql_key": float64(0), "zo_sql_num": float64(4)},
			{"zo_sql_key": float64(10_000_000), "zo_sql_num": float64(6)},
		}},
		50_000_000: {Hits: []models.Hit{
			{"zo_sql_key": float64(50_000_000), "zo_sql_num": float64(5)},
		}},
	}}

	in := histogramInput(detail, false)
	in.Query.StartTime = 0
	in.Query.EndTime = 100_000_000

	result := NewGenerator(searcher).Run(context.Background(), in)

	require.Empty(t, result.ErrMsg)
	assert.Equal(t, int64(10), detail.PartitionTotal[0])
	assert.Equal(t, int64(5), detail.PartitionTotal[1])
	assert.Equal(t, int64(15), detail.KnownTotal())

	var total int64
	for _, b := range result.Buckets {
		total += b.Count
	}

	assert.Equal(t, int64(15), total)
}

func TestGeneratorContinuesPastFailedPartition(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{0, 50_000_000}, {50_000_000, 100_000_000}}, 50)

	searcher := &fakeSearcher{
		errOn: map[int64]error{0: errors.New("partition exploded")},
		responses: map[int64]*models.SearchResponse{
			50_000_000: {Hits: []models.Hit{{"zo_sql_key": float64(50_000_000), "zo_sql_num": float64(5)}}},
		},
	}

	in := histogramInput(detail, false)
	in.Query.StartTime = 0
	in.Query.EndTime = 100_000_000

	result := NewGenerator(searcher).Run(context.Background(), in)

	require.Len(t, searcher.visited, 2)
	assert.Empty(t, result.ErrMsg)
	assert.Equal(t, int64(5), detail.KnownTotal())
}

func TestGeneratorCancellationStopsLoop(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{100, 200}, {200, 300}, {300, 400}}, 50)

	cancelled := false
	searcher := &fakeSearcher{onCall: func() { cancelled = true }}

	in := histogramInput(detail, false)
	in.Cancelled = func() bool { return cancelled }

	result := NewGenerator(searcher).Run(context.Background(), in)

	// The flag is set during the first fetch: the loop head observes
	// it before partition two, no further request is issued.
	require.Len(t, searcher.visited, 1)
	assert.Equal(t, MsgCancelled, result.ErrMsg)
}

func TestGeneratorCancelledAfterMergeKeepsBuckets(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{0, 50_000_000}, {50_000_000, 100_000_000}}, 50)

	cancelled := false
	searcher := &fakeSearcher{
		responses: map[int64]*models.SearchResponse{
			0: {Hits: []models.Hit{{"zo_sql_key": float64(0), "zo_sql_num": float64(4)}}},
		},
		onCall: func() { cancelled = true },
	}

	in := histogramInput(detail, false)
	in.Query.StartTime = 0
	in.Query.EndTime = 100_000_000
	in.Cancelled = func() bool { return cancelled }

	result := NewGenerator(searcher).Run(context.Background(), in)

	// Already-merged buckets stay, and no cancelled error is shown
	// because buckets were produced.
	assert.Empty(t, result.ErrMsg)
	assert.Equal(t, int64(4), detail.PartitionTotal[0])
}

func TestGeneratorCancelledTransportError(t *testing.T) {
	detail := models.NewPartitionDetail([][2]int64{{100, 200}}, 50)

	searcher := &fakeSearcher{errOn: map[int64]error{100: transport.ErrCancelled}}

	result := NewGenerator(searcher).Run(context.Background(), histogramInput(detail, false))

	assert.Equal(t, MsgCancelled, result.ErrMsg)
}
