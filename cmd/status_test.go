package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/mqttcd/pkg/session"
)

func TestFetchStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(statusReply{
			Status: session.Status{
				State:      session.StateReceiving,
				Topic:      "sensors/temp",
				Received:   3,
				Bytes:      12,
				Dispatched: 2,
				Dropped:    1,
			},
			Since:   "1 minute ago",
			Version: "dev",
		})
	}))
	defer ts.Close()

	st, err := fetchStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, session.StateReceiving, st.State)
	assert.Equal(t, "sensors/temp", st.Topic)
	assert.Equal(t, int64(3), st.Received)

	row := statusRow(st)
	require.Len(t, row, len(statusHeaders))
	assert.Equal(t, []string{"receiving", "sensors/temp", "1 minute ago", "3", "12 B", "2", "1", "0", "0", "0", "0", "dev"}, row)
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := fetchStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
	assert.Error(t, err)
}

func TestStatusClient(t *testing.T) {
	_, base := statusClient("unix:///tmp/mqttcd.sock")
	assert.Equal(t, "http://unix", base)
	_, base = statusClient("127.0.0.1:8080")
	assert.Equal(t, "http://127.0.0.1:8080", base)
}
