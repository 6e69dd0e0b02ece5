package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/chatlog/chatlogtest"
	"github.com/go-go-golems/chat-archive/pkg/ingest"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = chatstore.NewInMemoryMessageStore(chatlogtest.Conversation()...)
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSearch(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var got []chatlog.Message
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/search?q=hello", &got))
	require.ElementsMatch(t, []string{"2", "5"}, chatlogtest.IDs(got))

	got = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/search?q=nothing-matches", &got))
	require.NotNil(t, got)
	require.Empty(t, got)

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search?q=x&limit=abc", &e))
	require.Contains(t, e.Error, "limit")
}

func TestWindow(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var w chatlog.Window
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/messages/5?before=2&after=1", &w))
	require.Equal(t, []string{"3", "4", "5", "6"}, chatlogtest.IDs(w.Messages()))

	w = chatlog.Window{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/messages/5", &w))
	require.Equal(t, 4, len(w.BeforeMessages))
	require.Equal(t, 3, len(w.AfterMessages))

	var e ErrorResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/messages/404", &e))
	require.Equal(t, chatlog.ErrNotFound.Error(), e.Error)

	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/messages/5?before=-1", &e))
}

func TestPaging(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var got []chatlog.Message
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/messages/5/before?limit=2", &got))
	require.Equal(t, []string{"4", "3"}, chatlogtest.IDs(got))

	got = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/messages/5/after?limit=2", &got))
	require.Equal(t, []string{"6", "7"}, chatlogtest.IDs(got))

	got = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/messages/1/before", &got))
	require.NotNil(t, got)
	require.Empty(t, got)

	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/messages/404/after", nil))
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Post(ts.URL+"/search", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type failingStore struct{ chatstore.MessageStore }

func (failingStore) Search(context.Context, string, int) ([]chatlog.Message, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailureIs500(t *testing.T) {
	_, ts := newTestServer(t, Options{Store: failingStore{chatstore.NewInMemoryMessageStore()}})
	var e ErrorResponse
	require.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/search?q=x", &e))
	require.NotContains(t, e.Error, "disk")
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var h HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &h))
	require.Equal(t, HealthResponse{Status: "ok", Messages: 8}, h)

	// The counter is bumped once the handler returns, which can be after
	// the client has the response.
	require.Eventually(t, func() bool {
		text := scrape(t, ts.URL)
		return strings.Contains(text, `chat_archive_http_requests_total{code="200",route="healthz"} 1`) &&
			strings.Contains(text, "chat_archive_live_connections 0")
	}, 2*time.Second, 10*time.Millisecond)
}

func scrape(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestLiveFeedBroadcastsStoredMessages(t *testing.T) {
	store := chatstore.NewInMemoryMessageStore()
	bus, err := ingest.NewBus(ingest.Config{Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	s, ts := newTestServer(t, Options{Store: store, Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Deliver(ctx, chatlog.Message{ID: "42", CreatedAt: 1, Name: "Alice", Text: "live"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got chatlog.Message
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "42", got.ID)
	require.Equal(t, "live", got.Text)

	_ = conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastDropsStalledClient(t *testing.T) {
	s, ts := newTestServer(t, Options{Store: chatstore.NewInMemoryMessageStore()})
	s.Hub().writeTimeout = 100 * time.Millisecond

	// The client never reads, so the socket buffers fill up and a write
	// eventually misses its deadline.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	big := chatlog.Message{ID: "big", Name: "A", Text: strings.Repeat("x", 1<<20)}
	for i := 0; i < 200 && s.Hub().Count() > 0; i++ {
		s.Hub().Broadcast(big)
	}
	require.Zero(t, s.Hub().Count())
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewServer(Options{Addr: "127.0.0.1:0", Store: chatstore.NewInMemoryMessageStore()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(Options{})
	require.Error(t, err)
}
