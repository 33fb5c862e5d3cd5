/*
2025 © Logset
*/

// Package searchproc orchestrates one search session: partition
// planning, pagination across partitions, the companion histogram and
// cancellation. A Session is the explicit state blob of the active
// search tab; exactly one run owns it at a time.
package searchproc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"
	"github.com/rs/xid"

	"gitlab.com/logset/searchkit/pkg/config"
	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/querybuilder"
	"gitlab.com/logset/searchkit/pkg/services/partition"
	"gitlab.com/logset/searchkit/pkg/transport"
)

var log = logging.MustGetLogger("searchproc")

// BackendAPI is the HTTP-only surface consumed regardless of the
// active search strategy.
type BackendAPI interface {
	partition.API

	CancelQueries(ctx context.Context, traceIDs []string) error
	SearchAround(ctx context.Context, stream string, key int64, size int, queryContext string) (*models.SearchResponse, error)
}

// Results is the accumulated state of the main result display.
type Results struct {
	Hits          []models.Hit
	Total         int64
	Took          int64
	ScanSize      int64
	FunctionError string
	Loading       bool
}

// Session owns the run state: the query, the partition plan, the
// pagination cursor, accumulated results and the trace registry.
type Session struct {
	cfg     config.Config
	builder *querybuilder.Builder
	planner *partition.Planner
	api     BackendAPI

	httpStrategy   transport.Searcher
	streamStrategy transport.Searcher

	runMu sync.Mutex // one logical run at a time

	mu          sync.Mutex // guards the fields below
	state       *querybuilder.SearchState
	built       *querybuilder.Built
	detail      *models.PartitionDetail
	results     Results
	histogram   *models.HistogramResult
	currentPage int // zero-based
	lastErr     error
	notices     []string

	active transport.Searcher

	cancelled  atomic.Bool
	cancelOnce sync.Once

	tracesMu sync.Mutex
	traces   map[string]struct{}
}

// NewSession creates a session on the given strategies. streamStrategy
// may be nil when the websocket transport is disabled.
func NewSession(cfg config.Config, api BackendAPI, httpStrategy, streamStrategy transport.Searcher,
	syncer querybuilder.QuerySyncer) *Session {
	return &Session{
		cfg:            cfg,
		builder:        querybuilder.NewBuilder(syncer),
		planner:        partition.NewPlanner(api, cfg.Search.RowsPerPage),
		api:            api,
		httpStrategy:   httpStrategy,
		streamStrategy: streamStrategy,
		traces:         make(map[string]struct{}),
	}
}

// Results returns a snapshot of the accumulated result state.
func (s *Session) Results() Results {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.results
	snapshot.Hits = append([]models.Hit(nil), s.results.Hits...)

	return snapshot
}

// Histogram returns the histogram panel state, nil before the first
// eligible run.
func (s *Session) Histogram() *models.HistogramResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.histogram
}

// Detail exposes the current partition plan.
func (s *Session) Detail() *models.PartitionDetail {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.detail
}

// LastError returns the error of the last run, nil on success.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

// Notices returns user-facing notifications produced by the session,
// e.g. the single cancellation notice.
func (s *Session) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.notices...)
}

// Cancelled reports whether the active run was cancelled. Every
// continuation point checks it before raising another request.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Cancel stops the active run: pending continuation points observe
// the flag, and every in-flight trace is told to cancel remotely.
// Exactly one cancellation notice is produced per run.
func (s *Session) Cancel(ctx context.Context) {
	s.cancelled.Store(true)

	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.notices = append(s.notices, transport.ErrCancelled.Error())
		s.mu.Unlock()
	})

	traceIDs := s.inFlightTraces()
	if len(traceIDs) == 0 {
		return
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active != nil && active == s.streamStrategy {
		for _, traceID := range traceIDs {
			if err := active.Cancel(ctx, traceID); err != nil {
				log.Errorf("failed to cancel trace %s: %v", traceID, err)
			}
		}

		return
	}

	if err := s.api.CancelQueries(ctx, traceIDs); err != nil {
		log.Errorf("failed to cancel queries: %v", err)
	}
}

// SearchAround expands results around a point in time. The expansion
// is HTTP-only and not paginated.
func (s *Session) SearchAround(ctx context.Context, stream string, key int64, size int) (*models.SearchResponse, error) {
	queryContext := ""

	s.mu.Lock()
	if s.built != nil {
		queryContext = s.built.Request.SQL.First()
	}
	s.mu.Unlock()

	return s.api.SearchAround(ctx, stream, key, size, queryContext)
}

// strategyFor picks the transport of a run: the multiplexed stream is
// preferred unless disabled or the run is a multi-stream non-SQL
// search.
func (s *Session) strategyFor(state *querybuilder.SearchState) transport.Searcher {
	multiStreamNonSQL := len(state.Streams) > 1 && !state.SQLMode

	if s.streamStrategy != nil && s.cfg.Backend.WebSocketEnabled && !multiStreamNonSQL {
		return s.streamStrategy
	}

	return s.httpStrategy
}

// reset prepares the session for a new top-level run; all prior run
// state is replaced wholesale.
func (s *Session) reset(state *querybuilder.SearchState) {
	s.cancelled.Store(false)
	s.cancelOnce = sync.Once{}

	s.tracesMu.Lock()
	s.traces = make(map[string]struct{})
	s.tracesMu.Unlock()

	s.mu.Lock()
	s.state = state
	s.built = nil
	s.detail = nil
	s.results = Results{Loading: true}
	s.histogram = nil
	s.currentPage = 0
	s.lastErr = nil
	s.notices = nil
	s.mu.Unlock()
}

func (s *Session) newTrace() string {
	traceID := xid.New().String()

	s.tracesMu.Lock()
	s.traces[traceID] = struct{}{}
	s.tracesMu.Unlock()

	return traceID
}

func (s *Session) releaseTrace(traceID string) {
	s.tracesMu.Lock()
	delete(s.traces, traceID)
	s.tracesMu.Unlock()
}

func (s *Session) inFlightTraces() []string {
	s.tracesMu.Lock()
	defer s.tracesMu.Unlock()

	traceIDs := make([]string, 0, len(s.traces))
	for traceID := range s.traces {
		traceIDs = append(traceIDs, traceID)
	}

	return traceIDs
}
