package couch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/couchgate/couchgate/internal/metrics"
)

// Change is one record from the continuous _changes feed.
type Change struct {
	Seq     json.RawMessage   `json:"seq"`
	ID      string            `json:"id"`
	Deleted bool              `json:"deleted,omitempty"`
	Doc     json.RawMessage   `json:"doc,omitempty"`
	Changes []json.RawMessage `json:"changes"`
}

// Backoff is the follower's reconnect delay policy: start at Initial,
// double on every consecutive failure, cap at Max, reset after every
// successfully established stream. Explicit so the policy is testable
// without a live feed.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// Next returns the delay to wait before the next connection attempt and
// advances the policy.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the policy to its initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}

// Follower tails a database's continuous change feed and invokes a handler
// for every parsed change. One follower per process is enough; Run guards
// against double starts.
type Follower struct {
	client    *Client
	db        string
	heartbeat time.Duration
	handler   func(Change)
	logger    *slog.Logger
	backoff   Backoff

	running atomic.Bool

	// Reconnects counts completed connection cycles; exposed for tests.
	Reconnects atomic.Int64
}

func NewFollower(client *Client, db string, handler func(Change), logger *slog.Logger) *Follower {
	return &Follower{
		client:    client,
		db:        db,
		heartbeat: 30 * time.Second,
		handler:   handler,
		logger:    logger.With("component", "changes_follower", "db", db),
		backoff:   Backoff{Initial: time.Second, Max: 30 * time.Second},
	}
}

// Run tails the feed until ctx is cancelled, reconnecting with exponential
// backoff on failure. Calling Run again while a previous call is still
// active is a no-op.
func (f *Follower) Run(ctx context.Context) {
	if !f.running.CompareAndSwap(false, true) {
		f.logger.Warn("follower already running, ignoring duplicate start")
		return
	}
	defer f.running.Store(false)

	f.logger.Info("change feed follower started")

	for {
		connected, err := f.stream(ctx)
		if ctx.Err() != nil {
			f.logger.Info("change feed follower stopped")
			return
		}
		f.Reconnects.Add(1)
		metrics.ChangesReconnectsTotal.Inc()

		if connected {
			// The connection was established; an idle feed that only sent
			// heartbeats before dropping still counts as healthy.
			f.backoff.Reset()
		}
		delay := f.backoff.Next()
		f.logger.Warn("change feed disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// stream opens one continuous feed connection and pumps it until it ends.
// connected reports whether the server accepted the request, which the
// reconnect loop uses to reset backoff.
func (f *Follower) stream(ctx context.Context) (connected bool, err error) {
	params := url.Values{}
	params.Set("feed", "continuous")
	params.Set("since", "now")
	params.Set("include_docs", "true")
	params.Set("heartbeat", fmt.Sprintf("%d", f.heartbeat.Milliseconds()))

	path := "/" + url.PathEscape(f.db) + "/_changes?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.client.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("build changes request: %w", err)
	}
	req.Header.Set("Authorization", f.client.adminAuth())

	// No client timeout here: the feed is long-lived and kept alive by
	// heartbeat newlines.
	feedClient := &http.Client{}
	resp, err := feedClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect changes feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &Error{Status: resp.StatusCode, Err: "changes", Reason: resp.Status}
	}
	connected = true

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			// Heartbeat.
			continue
		}
		var change Change
		if err := json.Unmarshal(line, &change); err != nil || change.ID == "" {
			// Partial lines and the trailing {"last_seq":...} record land
			// here; both are ignored.
			continue
		}
		f.handler(change)
	}
	if err := scanner.Err(); err != nil {
		return connected, fmt.Errorf("read changes feed: %w", err)
	}
	return connected, fmt.Errorf("changes feed closed by server")
}
