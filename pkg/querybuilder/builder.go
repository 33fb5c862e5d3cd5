/*
2025 © Logset
*/

// Package querybuilder turns the user's query and UI mode flags into
// the structured request a run executes, together with its companion
// histogram query and chart interval.
package querybuilder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/sqlparse"
)

// Build errors surfaced before any network call.
var (
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrStartAfterEnd    = errors.New("start time must be before end time")
	ErrInvalidSQL       = errors.New("invalid SQL")
	ErrNoStream         = errors.New("no stream selected")
)

// Fixed histogram ineligibility messages shown in the histogram panel.
const (
	MsgHistogramMultiStreamSQL = "Histogram is not available for multi-stream SQL mode search."
	MsgHistogramShaping        = "Histogram unavailable for CTEs, DISTINCT, JOIN and LIMIT queries."
)

// Stream is one selected log stream and the fields known to exist in
// its schema.
type Stream struct {
	Name   string
	Schema []string
}

// HasField reports whether the stream's schema contains a field.
func (s Stream) HasField(name string) bool {
	for _, f := range s.Schema {
		if f == name {
			return true
		}
	}

	return false
}

// SearchState is the UI-side input of one run.
type SearchState struct {
	Query             string
	SQLMode           bool
	QuickMode         bool
	Streams           []Stream
	InterestingFields []string
	StartTime         int64 // µs
	EndTime           int64 // µs
	CurrentPage       int
	RowsPerPage       int
	HistogramEnabled  bool
	TimestampColumn   string
}

// Built is the outcome of query building: the run request, the
// derived histogram query, and the flags the orchestrator consults.
type Built struct {
	Request        *models.QueryRequest
	HistogramQuery *models.QueryRequest
	Interval       models.Interval

	HistogramEligible bool
	HistogramErrMsg   string
	HistogramDirty    bool

	PaginationDisabled bool
	LimitApplied       bool
	OrderAscByTime     bool
	HasAggregation     bool
}

// QuerySyncer receives the computed filters for URL persistence. The
// implementation is an external collaborator; NopSyncer is the default.
type QuerySyncer interface {
	SyncFilters(filters map[string]string)
}

// NopSyncer discards filter updates.
type NopSyncer struct{}

// SyncFilters implements QuerySyncer.
func (NopSyncer) SyncFilters(map[string]string) {}

// Builder builds run requests from search state.
type Builder struct {
	syncer QuerySyncer
}

// NewBuilder creates a Builder with the given syncer collaborator.
func NewBuilder(syncer QuerySyncer) *Builder {
	if syncer == nil {
		syncer = NopSyncer{}
	}

	return &Builder{syncer: syncer}
}

// Build validates the state and produces the run's QueryRequest.
func (b *Builder) Build(state *SearchState) (*Built, error) {
	if state.StartTime <= 0 || state.EndTime <= 0 {
		return nil, ErrInvalidDateRange
	}

	if state.StartTime >= state.EndTime {
		return nil, ErrStartAfterEnd
	}

	if len(state.Streams) == 0 {
		return nil, ErrNoStream
	}

	if state.TimestampColumn == "" {
		state.TimestampColumn = "_timestamp"
	}

	if state.CurrentPage < 1 {
		state.CurrentPage = 1
	}

	built := &Built{
		Interval:          ChartInterval(state.EndTime - state.StartTime),
		HistogramEligible: true,
	}

	var err error
	if state.SQLMode {
		err = b.buildSQLMode(state, built)
	} else {
		err = b.buildQuickMode(state, built)
	}

	if err != nil {
		return nil, err
	}

	if !state.HistogramEnabled || state.CurrentPage > 1 {
		built.HistogramDirty = true
	}

	b.syncer.SyncFilters(stateFilters(state))

	return built, nil
}

// buildSQLMode parses the user SQL, extracts pagination from a LIMIT
// clause and derives histogram eligibility from the query shape.
func (b *Builder) buildSQLMode(state *SearchState, built *Built) error {
	ir, err := sqlparse.Parse(state.Query)
	if err != nil {
		return errors.Wrap(ErrInvalidSQL, err.Error())
	}

	req := &models.QueryRequest{
		SQL:       models.SQLSource{state.Query},
		StartTime: state.StartTime,
		EndTime:   state.EndTime,
		From:      (state.CurrentPage - 1) * state.RowsPerPage,
		Size:      state.RowsPerPage,
		SQLMode:   models.SQLModeFull,
	}

	built.HasAggregation = ir.HasAggregation
	built.OrderAscByTime = ir.OrderedAscBy(state.TimestampColumn)

	if ir.HasAggregation {
		// Group-by queries fetch every matching row in one shot.
		req.Size = models.SizeAllRows
		req.From = 0
		built.PaginationDisabled = true
	}

	if ir.HasLimit() {
		size, from := ir.LimitValues()
		req.Size = size
		req.From = from
		built.PaginationDisabled = true
		built.LimitApplied = true
	}

	if len(state.Streams) > 1 {
		built.HistogramEligible = false
		built.HistogramErrMsg = MsgHistogramMultiStreamSQL
	} else if ir.HasCTE || ir.Distinct || ir.HasJoin || ir.HasLimit() {
		built.HistogramEligible = false
		built.HistogramErrMsg = MsgHistogramShaping
	}

	built.Request = req

	if built.HistogramEligible {
		built.HistogramQuery = histogramRequest(req,
			sqlparse.HistogramSQL(ir.Table, ir.WhereSQL(), state.TimestampColumn, built.Interval.Seconds))
	}

	return nil
}

// buildQuickMode composes per-stream SQL. A single stream gets the
// interesting-field projection; several streams produce one statement
// per stream, qualified to the fields each schema actually has and
// prefixed with a literal _stream_name column.
func (b *Builder) buildQuickMode(state *SearchState, built *Built) error {
	req := &models.QueryRequest{
		StartTime: state.StartTime,
		EndTime:   state.EndTime,
		From:      (state.CurrentPage - 1) * state.RowsPerPage,
		Size:      state.RowsPerPage,
		QuickMode: state.QuickMode,
		SQLMode:   models.SQLModeContext,
	}

	if len(state.Streams) == 1 {
		stream := state.Streams[0]
		req.SQL = models.SQLSource{selectSQL(projection(state, stream), stream.Name, state.Query)}

		built.Request = req
		built.HistogramQuery = histogramRequest(req,
			sqlparse.HistogramSQL(stream.Name, state.Query, state.TimestampColumn, built.Interval.Seconds))

		return nil
	}

	sqls := make(models.SQLSource, 0, len(state.Streams))
	tables := make([]string, 0, len(state.Streams))

	for _, stream := range state.Streams {
		fields := fmt.Sprintf("'%s' AS _stream_name", stream.Name)
		if proj := projection(state, stream); proj != "*" {
			fields += ", " + proj
		} else {
			fields += ", *"
		}

		sqls = append(sqls, selectSQL(fields, stream.Name, state.Query))
		tables = append(tables, stream.Name)
	}

	req.SQL = sqls
	// Multi-stream output must carry a streaming id so the backend can
	// interleave per-stream results deterministically.
	req.StreamingOutput = true
	req.StreamingID = uuid.NewString()

	built.Request = req
	built.HistogramQuery = histogramRequest(req,
		sqlparse.UnionHistogramSQL(tables, state.TimestampColumn, built.Interval.Seconds))

	return nil
}

// projection picks the quick-mode column list: interesting fields when
// exactly one applies, otherwise every column.
func projection(state *SearchState, stream Stream) string {
	if !state.QuickMode || len(state.InterestingFields) == 0 {
		return "*"
	}

	fields := make([]string, 0, len(state.InterestingFields))

	for _, f := range state.InterestingFields {
		if len(state.Streams) == 1 || stream.HasField(f) {
			fields = append(fields, f)
		}
	}

	if len(fields) == 0 {
		return "*"
	}

	return strings.Join(fields, ",")
}

func selectSQL(fields, table, where string) string {
	sql := fmt.Sprintf(`SELECT %s FROM "%s"`, fields, table)
	if where != "" {
		sql += " WHERE " + where
	}

	return sql
}

// histogramRequest derives the histogram companion from the run
// request: same range, aggregation SQL, every matching row.
func histogramRequest(req *models.QueryRequest, sql string) *models.QueryRequest {
	h := req.Clone()
	h.SQL = models.SQLSource{sql}
	h.From = 0
	h.Size = models.SizeAllRows
	h.StreamingOutput = false
	h.StreamingID = ""

	return h
}

// ChartInterval maps the time-range duration to the histogram bucket
// width. The ladder escalates as the range grows.
func ChartInterval(durationMicros int64) models.Interval {
	d := time.Duration(durationMicros) * time.Microsecond

	switch {
	case d <= 30*time.Minute:
		return interval(10, "15:04:05")
	case d <= time.Hour:
		return interval(15, "15:04:05")
	case d <= 2*time.Hour:
		return interval(30, "15:04:05")
	case d <= 6*time.Hour:
		return interval(60, "15:04")
	case d <= 24*time.Hour:
		return interval(5*60, "15:04")
	case d <= 7*24*time.Hour:
		return interval(30*60, "15:04")
	case d <= 30*24*time.Hour:
		return interval(60*60, "01-02 15:04")
	default:
		return interval(24*60*60, "2006-01-02")
	}
}

func interval(seconds int64, keyFormat string) models.Interval {
	literal := fmt.Sprintf("%d second", seconds)

	switch {
	case seconds >= 24*60*60:
		literal = fmt.Sprintf("%d day", seconds/(24*60*60))
	case seconds >= 60*60:
		literal = fmt.Sprintf("%d hour", seconds/(60*60))
	case seconds >= 60:
		literal = fmt.Sprintf("%d minute", seconds/60)
	}

	return models.Interval{Seconds: seconds, Literal: literal, KeyFormat: keyFormat}
}

func stateFilters(state *SearchState) map[string]string {
	return map[string]string{
		"query":     state.Query,
		"sql_mode":  strconv.FormatBool(state.SQLMode),
		"from":      strconv.FormatInt(state.StartTime, 10),
		"to":        strconv.FormatInt(state.EndTime, 10),
		"page":      strconv.Itoa(state.CurrentPage),
		"histogram": strconv.FormatBool(state.HistogramEnabled),
	}
}
