/*
2025 © Logset
*/

package searchproc

import (
	"context"

	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/querybuilder"
	"gitlab.com/logset/searchkit/pkg/services/histogram"
	"gitlab.com/logset/searchkit/pkg/services/pagination"
	"gitlab.com/logset/searchkit/pkg/transport"
)

// ErrNoActiveSearch is returned by page navigation before any run.
var ErrNoActiveSearch = errors.New("no active search")

// Run executes one full top-level run: reset, build, plan partitions,
// fetch the requested page (stitching subpages as needed), then the
// histogram or its page-count fallback. The session is reset wholesale
// before any state is touched.
func (s *Session) Run(ctx context.Context, state *querybuilder.SearchState) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if state.RowsPerPage <= 0 {
		state.RowsPerPage = s.cfg.Search.RowsPerPage
	}

	if state.TimestampColumn == "" {
		state.TimestampColumn = s.cfg.Backend.TimestampColumn
	}

	s.reset(state)

	built, err := s.builder.Build(state)
	if err != nil {
		s.fail(err)
		return err
	}

	currentPage := state.CurrentPage - 1
	if currentPage < 0 {
		currentPage = 0
	}

	s.mu.Lock()
	s.built = built
	s.active = s.strategyFor(state)
	s.currentPage = currentPage
	s.mu.Unlock()

	detail, err := s.planner.Plan(ctx, built.Request, built.LimitApplied)
	if err != nil {
		s.fail(err)
		return err
	}

	detail.DisablePaginate = detail.DisablePaginate || built.PaginationDisabled

	s.mu.Lock()
	s.detail = detail
	s.mu.Unlock()

	pagination.Refresh(detail, state.RowsPerPage, currentPage, true)

	if err := s.fetchPage(ctx); err != nil {
		if transport.IsCancelled(err) || s.Cancelled() {
			s.finish()
			return transport.ErrCancelled
		}

		s.fail(err)
		return err
	}

	s.runHistogram(ctx)
	s.finish()

	return nil
}

// GoToPage is the pure-pagination re-entry: no partition call, no
// histogram; the requested page's slices are fetched against the
// existing plan. page is one-based.
func (s *Session) GoToPage(ctx context.Context, page int) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	detail := s.detail
	state := s.state
	s.mu.Unlock()

	if detail == nil || state == nil {
		return ErrNoActiveSearch
	}

	if detail.DisablePaginate {
		return nil
	}

	if page < 1 {
		page = 1
	}

	s.cancelled.Store(false)

	s.mu.Lock()
	s.currentPage = page - 1
	s.results = Results{Loading: true}
	s.lastErr = nil
	s.mu.Unlock()

	pagination.Refresh(detail, state.RowsPerPage, page-1, false)

	if err := s.fetchPage(ctx); err != nil {
		if transport.IsCancelled(err) || s.Cancelled() {
			s.finish()
			return transport.ErrCancelled
		}

		s.fail(err)
		return err
	}

	s.finish()

	return nil
}

// fetchPage drives the subpage state machine: consume the current
// logical page's slices in order until the page is full or no slice
// remains, refreshing the pagination table after every fetch.
// Cancellation is observed at every iteration head.
func (s *Session) fetchPage(ctx context.Context) error {
	s.mu.Lock()
	built := s.built
	detail := s.detail
	page := s.currentPage
	active := s.active
	rowsPerPage := s.state.RowsPerPage
	s.mu.Unlock()

	acc := &models.SearchResponse{Hits: []models.Hit{}}

	if detail.DisablePaginate {
		if s.Cancelled() {
			return transport.ErrCancelled
		}

		resp, err := s.search(ctx, active, built.Request)
		if err != nil {
			return err
		}

		acc.Append(resp)
		s.storeResults(acc, acc.Total)

		return nil
	}

	var cursor pagination.Cursor

	for {
		if s.Cancelled() {
			s.storeResults(acc, detail.KnownTotal())
			return transport.ErrCancelled
		}

		if page >= len(detail.Paginations) {
			break
		}

		slice, ok := cursor.Next(detail.Paginations[page])
		if !ok {
			break
		}

		req := built.Request.Clone()
		req.StartTime = slice.StartTime
		req.EndTime = slice.EndTime
		req.From = slice.From
		req.Size = slice.Size
		req.StreamingOutput = slice.StreamingOutput || req.StreamingOutput

		if slice.StreamingID != "" {
			req.StreamingID = slice.StreamingID
		}

		partitionIdx := detail.PartitionIndexOf(slice)
		firstTouch := partitionIdx >= 0 && detail.PartitionTotal[partitionIdx] == models.TotalUnknown
		req.TrackTotalHits = firstTouch

		resp, err := s.search(ctx, active, req)
		if err != nil {
			// Already-accumulated hits stay visible.
			s.storeResults(acc, detail.KnownTotal())
			return err
		}

		acc.Append(resp)

		if firstTouch {
			total := resp.Total
			if total == 0 && len(resp.Hits) > 0 {
				total = int64(slice.From + len(resp.Hits))
			}

			detail.SetTotal(partitionIdx, total)
		}

		force := len(resp.Hits) != rowsPerPage
		pagination.Refresh(detail, rowsPerPage, page, force)

		cursor.Advance()

		if len(acc.Hits) >= rowsPerPage {
			break
		}
	}

	s.storeResults(acc, detail.KnownTotal())

	return nil
}

// runHistogram evaluates the eligibility state machine once after the
// page landed, then either generates the histogram or falls back to a
// cheap page count. Histogram failures never abort the main display.
func (s *Session) runHistogram(ctx context.Context) {
	s.mu.Lock()
	built := s.built
	detail := s.detail
	active := s.active
	currentPage := s.currentPage
	s.mu.Unlock()

	if built.HistogramDirty {
		return
	}

	if !built.HistogramEligible {
		s.mu.Lock()
		s.histogram = &models.HistogramResult{Interval: built.Interval, ErrMsg: built.HistogramErrMsg}
		s.mu.Unlock()

		if !built.HasAggregation && currentPage == 0 {
			s.pageCount(ctx)
		}

		return
	}

	var lastTrace string

	newTraceID := func() string {
		if lastTrace != "" {
			s.releaseTrace(lastTrace)
		}

		lastTrace = s.newTrace()

		return lastTrace
	}

	result := histogram.NewGenerator(active).Run(ctx, histogram.Input{
		Query:      built.HistogramQuery,
		Detail:     detail,
		Interval:   built.Interval,
		OrderAsc:   built.OrderAscByTime,
		Cancelled:  s.Cancelled,
		NewTraceID: newTraceID,
	})

	if lastTrace != "" {
		s.releaseTrace(lastTrace)
	}

	s.mu.Lock()
	s.histogram = result
	// Partition totals were measured by the histogram pass; keep the
	// displayed total in sync.
	s.results.Total = detail.KnownTotal()
	s.mu.Unlock()
}

// pageCount issues the cheap total-only request used when the
// histogram is ineligible for a plain page-1 query. Its failures are
// histogram-class: logged, never surfaced on the main display.
func (s *Session) pageCount(ctx context.Context) {
	s.mu.Lock()
	built := s.built
	active := s.active
	s.mu.Unlock()

	req := built.Request.Clone()
	req.From = 0
	req.Size = 0
	req.TrackTotalHits = true

	resp, err := s.search(ctx, active, req)
	if err != nil {
		if transport.IsCancelled(err) {
			return
		}

		log.Errorf("page count failed: %v", err)

		return
	}

	s.mu.Lock()
	s.results.Total = resp.Total
	s.mu.Unlock()
}

// search issues one request through a strategy with a registered
// trace id. Cancellation wins over any error that was in flight.
func (s *Session) search(ctx context.Context, strategy transport.Searcher, req *models.QueryRequest) (*models.SearchResponse, error) {
	traceID := s.newTrace()
	defer s.releaseTrace(traceID)

	resp, err := strategy.Search(ctx, req, traceID)
	if err != nil {
		if s.Cancelled() || transport.IsCancelled(err) {
			return nil, transport.ErrCancelled
		}

		return nil, err
	}

	return resp, nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.results.Loading = false
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.mu.Lock()
	s.results.Loading = false
	s.mu.Unlock()
}

func (s *Session) storeResults(acc *models.SearchResponse, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results.Hits = acc.Hits
	s.results.Took = acc.Took
	s.results.ScanSize = acc.ScanSize
	s.results.FunctionError = acc.FunctionError

	if total > 0 {
		s.results.Total = total
	} else {
		s.results.Total = int64(len(acc.Hits))
	}

	if acc.NewStartTime != 0 {
		s.state.StartTime = acc.NewStartTime
		s.state.EndTime = acc.NewEndTime
	}
}
