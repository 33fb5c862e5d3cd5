/*
2025 © Logset
*/

package searchproc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/logset/searchkit/pkg/config"
	"gitlab.com/logset/searchkit/pkg/models"
	"gitlab.com/logset/searchkit/pkg/transport/httpapi"
	"gitlab.com/logset/searchkit/pkg/transport/stream"
)

// The two strategies must be interchangeable: the same backend data
// served over HTTP and over the websocket has to produce identical
// session results.
func TestTransportEquivalence(t *testing.T) {
	data := &dataset{totals: map[int64]int{1000: 120, 2000: 80}}
	partitions := [][2]int64{{1000, 2000}, {2000, 3000}}

	httpServer := newSearchServer(t, data, partitions)
	wsServer := newSocketServer(t, data)

	apiClient, err := httpapi.NewClient(backendConfig(httpServer.URL))
	require.NoError(t, err)

	httpCfg := testSessionConfig()
	httpCfg.Backend = backendConfig(httpServer.URL)

	httpSession := NewSession(httpCfg, apiClient, apiClient, nil, nil)

	wsCfg := testSessionConfig()
	wsCfg.Backend = backendConfig(httpServer.URL)
	wsCfg.Backend.WebSocketEnabled = true

	streamClient := stream.NewClient(backendConfig(wsServer.URL))
	t.Cleanup(func() { _ = streamClient.Close() })

	wsSession := NewSession(wsCfg, apiClient, apiClient, streamClient, nil)

	ctx := context.Background()

	require.NoError(t, httpSession.Run(ctx, sqlState(`SELECT * FROM "default"`)))
	require.NoError(t, wsSession.Run(ctx, sqlState(`SELECT * FROM "default"`)))

	httpPage1 := httpSession.Results()
	wsPage1 := wsSession.Results()

	assert.Equal(t, httpPage1.Hits, wsPage1.Hits)
	assert.Equal(t, httpPage1.Total, wsPage1.Total)
	assert.Equal(t, httpPage1.Took, wsPage1.Took)
	assert.Equal(t, httpPage1.ScanSize, wsPage1.ScanSize)

	require.NoError(t, httpSession.GoToPage(ctx, 2))
	require.NoError(t, wsSession.GoToPage(ctx, 2))

	httpPage2 := httpSession.Results()
	wsPage2 := wsSession.Results()

	require.Len(t, httpPage2.Hits, 100)
	assert.Equal(t, httpPage2.Hits, wsPage2.Hits)
	assert.Equal(t, httpPage2.Total, wsPage2.Total)
	assert.Equal(t, int64(200), wsPage2.Total)
}

func backendConfig(url string) config.Backend {
	return config.Backend{
		URL:        url,
		Org:        "default",
		StreamType: "logs",
		UseCache:   true,
	}
}

// newSearchServer serves the HTTP search and partition endpoints from
// the shared dataset.
func newSearchServer(t *testing.T, data *dataset, partitions [][2]int64) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/default/_search", func(w http.ResponseWriter, r *http.Request) {
		req := models.SearchRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		_ = json.NewEncoder(w).Encode(data.respond(req.Query))
	})

	mux.HandleFunc("/api/default/_search_partition", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.PartitionResponse{Partitions: partitions})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// newSocketServer answers search frames from the shared dataset with a
// search_response frame followed by the terminal end frame.
func newSocketServer(t *testing.T, data *dataset) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			frame := models.WSSearchFrame{}
			if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != models.FrameTypeSearch {
				continue
			}

			resp := data.respond(frame.Content.Payload.Query)

			writeSocketFrame(conn, models.FrameTypeSearchResponse, models.WSSearchResponseContent{
				TraceID: frame.Content.TraceID,
				Results: resp,
			})
			writeSocketFrame(conn, models.FrameTypeEnd, models.WSEnvelope{TraceID: frame.Content.TraceID})
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func writeSocketFrame(conn *websocket.Conn, frameType string, content interface{}) {
	raw, _ := json.Marshal(content)
	_ = conn.WriteJSON(models.WSResponseFrame{Type: frameType, Content: raw})
}
