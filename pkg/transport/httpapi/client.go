/*
2025 © Logset
*/

// Package httpapi provides the synchronous request/response strategy:
// one HTTP call per search request against the backend REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/config"
	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/transport"
)

var log = logging.MustGetLogger("httpapi")

const (
	authorizationHeader = "Authorization"
	traceIDHeader       = "Trace-Id"

	searchTypeUI = "ui"
)

type responseParser func(*http.Response) error

func newJSONParser(v interface{}) responseParser {
	return func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(v)
	}
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ErrorDetail string `json:"error_detail"`
	TraceID     string `json:"trace_id"`
}

// Client is the HTTP strategy. It also carries the endpoints that are
// HTTP-only regardless of the active search strategy: partition
// planning, search-around and query cancellation.
type Client struct {
	url    *url.URL
	cfg    config.Backend
	client *http.Client
}

// NewClient creates a backend API client.
func NewClient(cfg config.Backend) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse the backend URL")
	}

	u.Path = strings.TrimRight(u.Path, "/")

	return &Client{
		url: u,
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}, nil
}

// Search implements transport.Searcher over one POST to _search.
func (c *Client) Search(ctx context.Context, query *models.QueryRequest, traceID string) (*models.SearchResponse, error) {
	q := url.Values{}
	q.Set("type", c.cfg.StreamType)
	q.Set("search_type", searchTypeUI)
	q.Set("use_cache", strconv.FormatBool(c.cfg.UseCache))

	searchURL := c.buildURL(fmt.Sprintf("/api/%s/_search", c.cfg.Org), q)

	body := models.SearchRequest{Query: c.encodeQuery(query)}

	result := models.SearchResponse{}
	if err := c.doPost(ctx, searchURL, traceID, body, &result); err != nil {
		return nil, err
	}

	if result.TraceID == "" {
		result.TraceID = traceID
	}

	return &result, nil
}

// Partition plans the run: one call sizing the time range into
// backend-chosen sub-ranges.
func (c *Client) Partition(ctx context.Context, req *models.PartitionRequest) (*models.PartitionResponse, error) {
	q := url.Values{}
	q.Set("type", c.cfg.StreamType)

	partitionURL := c.buildURL(fmt.Sprintf("/api/%s/_search_partition", c.cfg.Org), q)

	if c.cfg.SQLBase64Enabled {
		encoded := *req
		encoded.SQL = base64.StdEncoding.EncodeToString([]byte(req.SQL))
		req = &encoded
	}

	result := models.PartitionResponse{}
	if err := c.doPost(ctx, partitionURL, "", req, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// SearchAround expands results around a point in time; the expansion
// is not paginated.
func (c *Client) SearchAround(ctx context.Context, stream string, key int64, size int, queryContext string) (*models.SearchResponse, error) {
	q := url.Values{}
	q.Set("type", c.cfg.StreamType)
	q.Set("key", strconv.FormatInt(key, 10))
	q.Set("size", strconv.Itoa(size))

	if queryContext != "" {
		if c.cfg.SQLBase64Enabled {
			queryContext = base64.StdEncoding.EncodeToString([]byte(queryContext))
		}

		q.Set("sql", queryContext)
	}

	aroundURL := c.buildURL(fmt.Sprintf("/api/%s/%s/_around", c.cfg.Org, stream), q)

	r, err := http.NewRequest(http.MethodGet, aroundURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a request")
	}

	result := models.SearchResponse{}
	if err := c.doRequest(ctx, r, "", newJSONParser(&result)); err != nil {
		return nil, err
	}

	return &result, nil
}

// Cancel implements transport.Searcher for a single trace id.
func (c *Client) Cancel(ctx context.Context, traceID string) error {
	return c.CancelQueries(ctx, []string{traceID})
}

// CancelQueries asks the backend to stop every query behind the given
// trace ids.
func (c *Client) CancelQueries(ctx context.Context, traceIDs []string) error {
	if len(traceIDs) == 0 {
		return nil
	}

	cancelURL := c.buildURL(fmt.Sprintf("/api/%s/query_manager/cancel", c.cfg.Org), nil)

	reqData, err := json.Marshal(traceIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	r, err := http.NewRequest(http.MethodPut, cancelURL, bytes.NewBuffer(reqData))
	if err != nil {
		return errors.Wrap(err, "failed to create a request")
	}

	return c.doRequest(ctx, r, "", func(*http.Response) error { return nil })
}

// Close implements transport.Searcher; the HTTP strategy holds no
// long-lived connection state.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) doPost(ctx context.Context, postURL, traceID string, data, response interface{}) error {
	reqData, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	r, err := http.NewRequest(http.MethodPost, postURL, bytes.NewBuffer(reqData))
	if err != nil {
		return errors.Wrap(err, "failed to create a request")
	}

	r.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, r, traceID, newJSONParser(response))
}

func (c *Client) doRequest(ctx context.Context, request *http.Request, traceID string, parser responseParser) error {
	if c.cfg.Token != "" {
		request.Header.Set(authorizationHeader, c.cfg.Token)
	}

	if traceID != "" {
		request.Header.Set(traceIDHeader, traceID)
	}

	request = request.WithContext(ctx)

	response, err := c.client.Do(request)
	if err != nil {
		return errors.Wrap(err, "failed to make a request")
	}

	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return c.parseError(response, traceID)
	}

	return parser(response)
}

// parseError maps a non-200 response to the error taxonomy: 429-class
// responses keep the server-provided message, everything else becomes
// an APIError carrying the trace id.
func (c *Client) parseError(response *http.Response, traceID string) error {
	body, _ := io.ReadAll(response.Body)
	log.Debugf("unsuccessful response: %d %s", response.StatusCode, string(body))

	parsed := errorBody{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed.Message = strings.TrimSpace(string(body))
	}

	if parsed.Message == "" {
		parsed.Message = fmt.Sprintf("unsuccessful status given: %d", response.StatusCode)
	}

	if parsed.TraceID != "" {
		traceID = parsed.TraceID
	}

	if response.StatusCode == http.StatusTooManyRequests {
		return &transport.RateLimitError{Msg: parsed.Message}
	}

	return &transport.APIError{
		Code:    response.StatusCode,
		Msg:     parsed.Message,
		TraceID: traceID,
	}
}

// encodeQuery applies the sql_base64_enabled wire rule without
// mutating the run-owned request.
func (c *Client) encodeQuery(query *models.QueryRequest) *models.QueryRequest {
	if !c.cfg.SQLBase64Enabled {
		return query
	}

	encoded := query.Clone()
	for i, sql := range encoded.SQL {
		encoded.SQL[i] = base64.StdEncoding.EncodeToString([]byte(sql))
	}

	return encoded
}

func (c *Client) buildURL(requestPath string, values url.Values) string {
	u := *c.url
	u.Path += requestPath

	if values != nil {
		u.RawQuery = values.Encode()
	}

	return u.String()
}
