/*
2025 © Logset
*/

package models

// Hit is one result row as returned by the backend.
type Hit map[string]interface{}

// SearchResponse is the backend's answer to one search request, for
// both transports. The stream transport folds its partial
// search_response frames into a single accumulated value of this
// shape, so the orchestrator never sees which transport ran.
type SearchResponse struct {
	Hits             []Hit                  `json:"hits"`
	Aggs             map[string]interface{} `json:"aggs,omitempty"`
	From             int                    `json:"from"`
	Size             int                    `json:"size"`
	Total            int64                  `json:"total"`
	Took             int64                  `json:"took"`
	ScanSize         int64                  `json:"scan_size"`
	CachedRatio      int                    `json:"result_cache_ratio,omitempty"`
	FunctionError    string                 `json:"function_error,omitempty"`
	NewStartTime     int64                  `json:"new_start_time,omitempty"`
	NewEndTime       int64                  `json:"new_end_time,omitempty"`
	IsPartial        bool                   `json:"is_partial,omitempty"`
	StreamingAggs    bool                   `json:"streaming_aggs,omitempty"`
	TraceID          string                 `json:"trace_id,omitempty"`
	RateLimitedAfter int64                  `json:"rate_limited_after,omitempty"`
}

// Append folds another response for the same logical page into this
// one: hits accumulate, took and scan size sum, total takes the most
// recent non-zero value.
func (r *SearchResponse) Append(next *SearchResponse) {
	r.Hits = append(r.Hits, next.Hits...)
	r.Took += next.Took
	r.ScanSize += next.ScanSize

	if next.Total != 0 {
		r.Total = next.Total
	}

	if next.CachedRatio != 0 {
		r.CachedRatio = next.CachedRatio
	}

	if next.FunctionError != "" {
		r.FunctionError = next.FunctionError
	}

	if next.StreamingAggs {
		r.StreamingAggs = true
	}

	if next.NewStartTime != 0 {
		r.NewStartTime = next.NewStartTime
		r.NewEndTime = next.NewEndTime
	}
}

// HistogramBucket is one chart bucket: Key is the bucket start in
// microseconds since epoch.
type HistogramBucket struct {
	Key   int64 `json:"zo_sql_key"`
	Count int64 `json:"zo_sql_num"`
}

// HistogramResult is the state of the histogram panel: it carries its
// own error fields because histogram failures never abort the main
// result display.
type HistogramResult struct {
	Buckets  []HistogramBucket
	Interval Interval
	ErrMsg   string
	ErrCode  int
}

// Interval is the chart bucket width derived from the time-range
// duration. Literal is the SQL literal form ("30 second"), KeyFormat
// the display layout for bucket keys.
type Interval struct {
	Seconds   int64
	Literal   string
	KeyFormat string
}

// Micros returns the interval width in microseconds.
func (i Interval) Micros() int64 {
	return i.Seconds * 1e6
}
