/*
2025 © Logset
*/

// Package stream provides the long-lived multiplexed strategy: one
// shared websocket per session, with every logical request keyed by a
// trace id. Inbound frames are routed to the waiting request by a
// dispatcher goroutine reading the socket.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"gitlab.com/logset/searchkit/pkg/config"
	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/transport"
)

var log = logging.MustGetLogger("stream")

const (
	searchTypeUI = "ui"

	// Inbound frames per trace buffered before the dispatcher drops.
	traceBufferSize = 64

	closeWriteTimeout = time.Second
)

// ErrSocketClosed is returned to every request still in flight when
// the shared socket dies.
var ErrSocketClosed = errors.New("socket closed")

// Client is the websocket strategy. The connection is dialed lazily on
// the first request and shared by all concurrent traces; requests that
// arrive while the dial is still in progress proceed in arrival order
// once it completes.
type Client struct {
	cfg    config.Backend
	dialer *websocket.Dialer

	mu     sync.Mutex // guards conn and traces
	conn   *websocket.Conn
	traces map[string]chan models.WSResponseFrame
	closed bool

	writeMu sync.Mutex
}

// NewClient creates a websocket strategy client.
func NewClient(cfg config.Backend) *Client {
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		traces: make(map[string]chan models.WSResponseFrame),
	}
}

// Search implements transport.Searcher: it registers the trace,
// writes one search frame and folds the response frames into a single
// accumulated result until the terminal "end" frame.
func (c *Client) Search(ctx context.Context, query *models.QueryRequest, traceID string) (*models.SearchResponse, error) {
	ch, err := c.register(traceID)
	if err != nil {
		return nil, err
	}

	frame := models.WSSearchFrame{
		Type: models.FrameTypeSearch,
		Content: models.WSSearchContent{
			TraceID:    traceID,
			Payload:    models.SearchRequest{Query: c.encodeQuery(query)},
			StreamType: c.cfg.StreamType,
			SearchType: searchTypeUI,
			UseCache:   c.cfg.UseCache,
			OrgID:      c.cfg.Org,
		},
	}

	if err := c.writeJSON(frame); err != nil {
		c.unregister(traceID)
		return nil, errors.Wrap(err, "failed to send a search frame")
	}

	acc := &models.SearchResponse{Hits: []models.Hit{}, TraceID: traceID}
	gotResults := false

	for {
		select {
		case <-ctx.Done():
			// The in-flight query is told to cancel; the dispatcher
			// cleans the trace up when the cancel acknowledgement or
			// end frame arrives.
			if err := c.writeCancel(traceID); err != nil {
				c.unregister(traceID)
			}

			return nil, transport.ErrCancelled

		case inbound, ok := <-ch:
			if !ok {
				return nil, ErrSocketClosed
			}

			switch inbound.Type {
			case models.FrameTypeSearchResponse:
				content := models.WSSearchResponseContent{}
				if err := json.Unmarshal(inbound.Content, &content); err != nil {
					log.Errorf("malformed search_response frame for trace %s: %v", traceID, err)
					continue
				}

				if content.Results != nil {
					acc.Append(content.Results)
					gotResults = true
				}

				if content.StreamingAggs {
					acc.StreamingAggs = true
				}

			case models.FrameTypeError:
				return nil, decodeError(inbound.Content, traceID)

			case models.FrameTypeCancelResponse:
				return nil, transport.ErrCancelled

			case models.FrameTypeEnd:
				if !gotResults {
					log.Debugf("trace %s ended without results", traceID)
				}

				return acc, nil
			}
		}
	}
}

// Cancel implements transport.Searcher by sending a cancel frame for
// the trace id. The backend answers with cancel_response, which takes
// the same cleanup path as natural completion.
func (c *Client) Cancel(_ context.Context, traceID string) error {
	return c.writeCancel(traceID)
}

// Close shuts the shared socket down and fails every in-flight trace.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.failAllLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))

	return conn.Close()
}

// register adds a trace entry and makes sure the socket is up.
func (c *Client) register(traceID string) (chan models.WSResponseFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSocketClosed
	}

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	ch := make(chan models.WSResponseFrame, traceBufferSize)
	c.traces[traceID] = ch

	return ch, nil
}

func (c *Client) unregister(traceID string) {
	c.mu.Lock()
	delete(c.traces, traceID)
	c.mu.Unlock()
}

// connectLocked dials the shared socket once; callers blocked on the
// mutex while the dial is in progress proceed in order afterwards.
func (c *Client) connectLocked() error {
	if c.conn != nil {
		return nil
	}

	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", c.cfg.Token)
	}

	log.Debugf("dialing %s", wsURL)

	conn, _, err := c.dialer.Dial(wsURL, header)
	if err != nil {
		return errors.Wrap(err, "failed to dial the search socket")
	}

	c.conn = conn

	go c.dispatch(conn)

	return nil
}

// dispatch reads every inbound frame of the shared socket and routes
// it to the matching trace. A terminal frame (end, error,
// cancel_response) deletes the trace entry exactly once.
func (c *Client) dispatch(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				log.Errorf("socket closed unexpectedly: %v", err)
			}

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.failAllLocked()
			c.mu.Unlock()

			return
		}

		frame := models.WSResponseFrame{}
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Errorf("malformed frame: %v", err)
			continue
		}

		envelope := models.WSEnvelope{}
		_ = json.Unmarshal(frame.Content, &envelope)

		c.route(envelope.TraceID, frame)
	}
}

func (c *Client) route(traceID string, frame models.WSResponseFrame) {
	c.mu.Lock()
	ch, ok := c.traces[traceID]

	if ok && isTerminal(frame.Type) {
		delete(c.traces, traceID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debugf("frame for unknown trace %s dropped", traceID)
		return
	}

	select {
	case ch <- frame:
	default:
		log.Errorf("trace %s buffer full, frame dropped", traceID)
	}
}

func isTerminal(frameType string) bool {
	switch frameType {
	case models.FrameTypeEnd, models.FrameTypeError, models.FrameTypeCancelResponse:
		return true
	}

	return false
}

// failAllLocked closes every registered trace channel so waiting
// requests observe the socket failure. Callers hold c.mu.
func (c *Client) failAllLocked() {
	for traceID, ch := range c.traces {
		close(ch)
		delete(c.traces, traceID)
	}
}

func (c *Client) writeCancel(traceID string) error {
	frame := models.WSCancelFrame{
		Type:    models.FrameTypeCancel,
		Content: models.WSCancelContent{TraceID: traceID},
	}

	return c.writeJSON(frame)
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrSocketClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
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

// socketURL derives the websocket endpoint from the backend base URL.
func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse the backend URL")
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/api/%s/ws/%s", c.cfg.Org, xid.New().String())

	return u.String(), nil
}

// decodeError maps an error frame to the shared taxonomy: 429-class
// codes keep the server message, everything else appends the trace id.
func decodeError(content json.RawMessage, traceID string) error {
	parsed := models.WSErrorContent{}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return &transport.APIError{Msg: "malformed error frame", TraceID: traceID}
	}

	if parsed.TraceID != "" {
		traceID = parsed.TraceID
	}

	if parsed.Code == http.StatusTooManyRequests {
		return &transport.RateLimitError{Msg: parsed.Message}
	}

	msg := parsed.Message
	if parsed.ErrorDetail != "" {
		msg = fmt.Sprintf("%s: %s", msg, parsed.ErrorDetail)
	}

	return &transport.APIError{
		Code:    parsed.Code,
		Msg:     msg,
		TraceID: traceID,
	}
}
