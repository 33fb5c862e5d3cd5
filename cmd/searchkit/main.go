/*
Searchkit

2025 © Logset

Query orchestration CLI for log search backends.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/olekukonko/tablewriter"
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/config"
	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/querybuilder"
	"gitlab.com/logset/searchkit/pkg/services/history"
	"gitlab.com/logset/searchkit/pkg/services/searchproc"
	"gitlab.com/logset/searchkit/pkg/transport"
	"gitlab.com/logset/searchkit/pkg/transport/httpapi"
	"gitlab.com/logset/searchkit/pkg/transport/stream"
)

const (
	configFilePath  = "config/config.yml"
	historyFilePath = "config/history.json"

	maxResultColumns  = 8
	histogramBarWidth = 40
)

// ldflag variables.
var buildTime, version string

var log = logging.MustGetLogger("searchkit")

func main() {
	var (
		configPath = flag.String("config", configFilePath, "configuration file path")
		query      = flag.String("q", "", "search query: a filter expression, or full SQL with -sql")
		sqlMode    = flag.Bool("sql", false, "treat the query as a full SQL statement")
		quickMode  = flag.Bool("quick", false, "project only the interesting fields")
		streams    = flag.String("streams", "default", "comma-separated stream names")
		fields     = flag.String("fields", "", "comma-separated interesting fields for quick mode")
		since      = flag.Duration("since", time.Hour, "relative start of the time range")
		fromFlag   = flag.String("from", "", "absolute range start (RFC3339), overrides -since")
		toFlag     = flag.String("to", "", "absolute range end (RFC3339)")
		page       = flag.Int("page", 1, "result page to fetch")
		histogram  = flag.Bool("histogram", false, "render the histogram")
		noWS       = flag.Bool("no-ws", false, "force the HTTP transport")
	)

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg.App)

	log.Debugf("version: %s", formatVersion())

	if *noWS {
		cfg.Backend.WebSocketEnabled = false
	}

	startTime, endTime, err := timeRange(*since, *fromFlag, *toFlag)
	if err != nil {
		log.Fatalf("invalid time range: %v", err)
	}

	apiClient, err := httpapi.NewClient(cfg.Backend)
	if err != nil {
		log.Fatalf("failed to create a backend client: %v", err)
	}

	var streamClient transport.Searcher

	if cfg.Backend.WebSocketEnabled {
		wsClient := stream.NewClient(cfg.Backend)
		defer func() { _ = wsClient.Close() }()

		streamClient = wsClient
	}

	searchHistory := history.NewJSONStore(historyFilePath)
	if err := searchHistory.Load(); err != nil {
		log.Warningf("unable to load search history: %v", err)
	}

	session := searchproc.NewSession(*cfg, apiClient, apiClient, streamClient, history.NewSyncer(searchHistory))

	defer func() {
		if err := searchHistory.Save(); err != nil {
			log.Warningf("unable to save search history: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go setCancelListener(ctx, session)

	state := &querybuilder.SearchState{
		Query:             *query,
		SQLMode:           *sqlMode,
		QuickMode:         *quickMode,
		Streams:           parseStreams(*streams),
		InterestingFields: splitList(*fields),
		StartTime:         startTime,
		EndTime:           endTime,
		CurrentPage:       *page,
		RowsPerPage:       cfg.Search.RowsPerPage,
		HistogramEnabled:  *histogram || cfg.Search.HistogramEnabledDefault,
		TimestampColumn:   cfg.Backend.TimestampColumn,
	}

	err = session.Run(ctx, state)

	for _, notice := range session.Notices() {
		fmt.Println(notice)
	}

	if err != nil && !transport.IsCancelled(err) {
		log.Fatalf("search failed: %v", err)
	}

	renderResults(session.Results(), cfg.Backend.TimestampColumn)

	if *histogram {
		renderHistogram(session.Histogram())
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg := &config.Config{}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// No config file: the environment alone has to be enough.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to read the environment")
		}

		return cfg, nil
	}

	if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read a config file")
	}

	return cfg, nil
}

func initLogging(app config.App) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{level:.4s} %{module} %{message}`)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))

	level := logging.INFO

	if parsed, err := logging.LogLevel(app.LogLevel); err == nil {
		level = parsed
	}

	if app.Debug {
		level = logging.DEBUG
	}

	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

func formatVersion() string {
	return version + "-" + buildTime
}

// timeRange resolves the flags into the microsecond range of the run.
func timeRange(since time.Duration, fromFlag, toFlag string) (int64, int64, error) {
	end := time.Now()
	start := end.Add(-since)

	if fromFlag != "" {
		parsed, err := time.Parse(time.RFC3339, fromFlag)
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to parse -from")
		}

		start = parsed
	}

	if toFlag != "" {
		parsed, err := time.Parse(time.RFC3339, toFlag)
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to parse -to")
		}

		end = parsed
	}

	return start.UnixMicro(), end.UnixMicro(), nil
}

func parseStreams(list string) []querybuilder.Stream {
	names := splitList(list)

	streams := make([]querybuilder.Stream, 0, len(names))
	for _, name := range names {
		streams = append(streams, querybuilder.Stream{Name: name})
	}

	return streams
}

func splitList(list string) []string {
	if list == "" {
		return nil
	}

	parts := strings.Split(list, ",")

	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}

	return cleaned
}

// setCancelListener cancels the active run on the first interrupt and
// terminates on the second.
func setCancelListener(ctx context.Context, session *searchproc.Session) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		return
	case <-c:
		log.Info("cancelling the active search")
		session.Cancel(ctx)
	}

	<-c
	os.Exit(130)
}

func renderResults(results searchproc.Results, timestampColumn string) {
	if len(results.Hits) == 0 {
		fmt.Println("no results")
		return
	}

	columns := resultColumns(results.Hits[0], timestampColumn)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(columns)
	table.SetBorder(false)

	for _, hit := range results.Hits {
		row := make([]string, 0, len(columns))
		for _, col := range columns {
			row = append(row, fmt.Sprintf("%v", hit[col]))
		}

		table.Append(row)
	}

	table.Render()

	took := durafmt.Parse(time.Duration(results.Took) * time.Millisecond).String()

	fmt.Printf("\n%d of %d rows in %s, scanned %s\n",
		len(results.Hits), results.Total, took, humanize.Bytes(uint64(results.ScanSize)))

	if results.FunctionError != "" {
		fmt.Printf("function warning: %s\n", results.FunctionError)
	}
}

// resultColumns orders the displayed columns: the timestamp first,
// then the remaining fields of the first hit, capped for readability.
func resultColumns(hit models.Hit, timestampColumn string) []string {
	columns := make([]string, 0, maxResultColumns)

	if _, ok := hit[timestampColumn]; ok {
		columns = append(columns, timestampColumn)
	}

	rest := make([]string, 0, len(hit))

	for col := range hit {
		if col != timestampColumn {
			rest = append(rest, col)
		}
	}

	sort.Strings(rest)

	for _, col := range rest {
		columns = append(columns, col)

		if len(columns) == maxResultColumns {
			break
		}
	}

	return columns
}

func renderHistogram(result *models.HistogramResult) {
	if result == nil {
		return
	}

	if result.ErrMsg != "" {
		fmt.Printf("\nhistogram: %s\n", result.ErrMsg)
		return
	}

	var max int64
	for _, b := range result.Buckets {
		if b.Count > max {
			max = b.Count
		}
	}

	if max == 0 {
		fmt.Println("\nhistogram: no matches in range")
		return
	}

	fmt.Printf("\nhistogram (%s buckets):\n", result.Interval.Literal)

	for _, b := range result.Buckets {
		key := time.UnixMicro(b.Key).UTC().Format(result.Interval.KeyFormat)
		bar := strings.Repeat("#", int(b.Count*histogramBarWidth/max))

		fmt.Printf("%s %8d %s\n", key, b.Count, bar)
	}
}
