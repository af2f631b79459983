package couch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var internalTestLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStream_HeartbeatOnlyFeedCountsAsConnected(t *testing.T) {
	// An idle database sends nothing but heartbeat newlines. A proxy or
	// network blip ending such a stream must still reset backoff, so the
	// stream reports connected even though no change ever arrived.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "\n")
		io.WriteString(w, "\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "YWRtaW46aHVudGVyMg==", internalTestLogger)
	f := NewFollower(client, "_users", func(Change) {
		t.Fatal("no change should be delivered")
	}, internalTestLogger)

	connected, err := f.stream(context.Background())
	require.Error(t, err, "a closed stream always surfaces as an error")
	assert.True(t, connected)
}

func TestStream_RejectedConnectionIsNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "YWRtaW46aHVudGVyMg==", internalTestLogger)
	f := NewFollower(client, "_users", func(Change) {}, internalTestLogger)

	connected, err := f.stream(context.Background())
	require.Error(t, err)
	assert.False(t, connected, "a rejected connection must keep escalating backoff")
}
