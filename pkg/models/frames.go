/*
2025 © Logset
*/

package models

import (
	"encoding/json"
)

// Frame types of the streaming search protocol.
const (
	FrameTypeSearch         = "search"
	FrameTypeCancel         = "cancel"
	FrameTypeSearchResponse = "search_response"
	FrameTypeError          = "error"
	FrameTypeCancelResponse = "cancel_response"
	FrameTypeEnd            = "end"
)

// WSSearchFrame is the outbound frame issuing one search over the
// shared socket. TraceID correlates every inbound frame of the answer.
type WSSearchFrame struct {
	Type    string          `json:"type"`
	Content WSSearchContent `json:"content"`
}

// WSSearchContent is the search frame body.
type WSSearchContent struct {
	TraceID    string          `json:"trace_id"`
	Payload    SearchRequest   `json:"payload"`
	StreamType string          `json:"stream_type"`
	SearchType string          `json:"search_type"`
	UseCache   bool            `json:"use_cache"`
	OrgID      string          `json:"org_id"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// WSCancelFrame asks the backend to cancel the query behind a trace id.
type WSCancelFrame struct {
	Type    string          `json:"type"`
	Content WSCancelContent `json:"content"`
}

// WSCancelContent is the cancel frame body.
type WSCancelContent struct {
	TraceID string `json:"trace_id"`
}

// WSResponseFrame is any inbound frame. Content stays raw until the
// frame type is known.
type WSResponseFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// WSSearchResponseContent is the body of a search_response frame.
type WSSearchResponseContent struct {
	TraceID       string          `json:"trace_id"`
	Results       *SearchResponse `json:"results"`
	StreamingAggs bool            `json:"streaming_aggs,omitempty"`
	TimeOffset    int64           `json:"time_offset,omitempty"`
}

// WSErrorContent is the body of an error frame.
type WSErrorContent struct {
	TraceID     string `json:"trace_id"`
	Message     string `json:"message"`
	Code        int    `json:"code"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// WSEnvelope peeks at the trace id of any inbound content body so the
// dispatcher can route the frame without decoding it fully.
type WSEnvelope struct {
	TraceID string `json:"trace_id"`
}
