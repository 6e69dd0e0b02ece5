package viewer

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat-archive/pkg/api"
	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/chatlog/chatlogtest"
	"github.com/go-go-golems/chat-archive/pkg/client"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

type fakeSource struct {
	mu               sync.Mutex
	search           map[string][]chatlog.Message
	windows          map[string]chatlog.Window
	before           map[string][]chatlog.Message
	after            map[string][]chatlog.Message
	err              error
	calls            []string
	missingDeadlines int
}

func (f *fakeSource) record(ctx context.Context, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if _, ok := ctx.Deadline(); !ok {
		f.missingDeadlines++
	}
	return f.err
}

func (f *fakeSource) Search(ctx context.Context, q string, _ int) ([]chatlog.Message, error) {
	if err := f.record(ctx, "search:"+q); err != nil {
		return nil, err
	}
	return f.search[q], nil
}

func (f *fakeSource) Window(ctx context.Context, id string, _, _ int) (chatlog.Window, error) {
	if err := f.record(ctx, "window:"+id); err != nil {
		return chatlog.Window{}, err
	}
	w, ok := f.windows[id]
	if !ok {
		return chatlog.Window{}, chatlog.ErrNotFound
	}
	return w, nil
}

func (f *fakeSource) Before(ctx context.Context, id string, _ int) ([]chatlog.Message, error) {
	if err := f.record(ctx, "before:"+id); err != nil {
		return nil, err
	}
	return f.before[id], nil
}

func (f *fakeSource) After(ctx context.Context, id string, _ int) ([]chatlog.Message, error) {
	if err := f.record(ctx, "after:"+id); err != nil {
		return nil, err
	}
	return f.after[id], nil
}

func msgs(ids ...int) []chatlog.Message {
	out := make([]chatlog.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, chatlog.Message{ID: fmt.Sprint(id), Name: "A", Text: fmt.Sprintf("m%d", id)})
	}
	return out
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		search: map[string][]chatlog.Message{
			"hello": {{ID: "1", Name: "A", Text: "hi"}, {ID: "2", Name: "B", Text: "hello there"}},
			"":      {},
		},
		windows: map[string]chatlog.Window{
			"5": {BeforeMessages: msgs(3, 4), Message: msgs(5)[0], AfterMessages: msgs(6)},
			"9": {Message: msgs(9)[0]},
		},
		before: map[string][]chatlog.Message{"3": msgs(2, 1), "1": {}},
		after:  map[string][]chatlog.Message{"6": msgs(7, 8), "8": {}},
	}
}

func newViewer(t *testing.T, src Source) *Viewer {
	t.Helper()
	v, err := New(src, Options{WindowSize: 2, PageSize: 2})
	require.NoError(t, err)
	return v
}

func run(v *Viewer, task Task) Change {
	return v.Apply(task(context.Background()))
}

func open(t *testing.T, v *Viewer, id string) {
	t.Helper()
	require.Equal(t, ChatReplaced, run(v, v.Open(id)).Kind)
}

func TestSearchRendersResponseInOrder(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)

	ch := run(v, v.Search("hello"))
	require.Equal(t, Change{Kind: ResultsReplaced, Count: 2}, ch)
	require.Len(t, v.Results, 2)
	require.Equal(t, "A: hi", v.Results[0].Line())
	require.Equal(t, "B: hello there", v.Results[1].Line())

	// A new search clears the previous results.
	ch = run(v, v.Search(""))
	require.Equal(t, ResultsReplaced, ch.Kind)
	require.Empty(t, v.Results)
	require.Equal(t, []string{"search:hello", "search:"}, src.calls)
}

func TestStaleSearchIsDiscarded(t *testing.T) {
	v := newViewer(t, newFakeSource())
	first := v.Search("")
	second := v.Search("hello")

	ctx := context.Background()
	late := first(ctx)
	require.Equal(t, ResultsReplaced, v.Apply(second(ctx)).Kind)
	require.Equal(t, Stale, v.Apply(late).Kind)
	require.Len(t, v.Results, 2)
}

func TestOpenReplacesWholeChat(t *testing.T) {
	v := newViewer(t, newFakeSource())

	open(t, v, "9")
	require.Equal(t, []string{"9"}, chatlogtest.IDs(v.Chat))

	ch := run(v, v.Open("5"))
	require.Equal(t, Change{Kind: ChatReplaced, Count: 4}, ch)
	require.Equal(t, []string{"3", "4", "5", "6"}, chatlogtest.IDs(v.Chat))
	require.True(t, v.Visible)
	require.Equal(t, "5", v.Selected)
	require.Equal(t, "3", v.Cursor.Top)
	require.Equal(t, "6", v.Cursor.Bottom)
	require.False(t, v.Cursor.AtStart)
	require.True(t, v.Cursor.AtEnd)
}

func TestPageBackwardPrependsNearestFirstPage(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)
	open(t, v, "5")

	ch := run(v, v.PageBackward())
	require.Equal(t, Change{Kind: Prepended, Count: 2}, ch)
	require.Equal(t, "before:3", src.calls[len(src.calls)-1])
	require.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, chatlogtest.IDs(v.Chat))
	require.Equal(t, "1", v.Cursor.Top)
	require.False(t, v.Cursor.PagingUp)
}

func TestPageForwardAppends(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)
	open(t, v, "5")

	ch := run(v, v.PageForward())
	require.Equal(t, Change{Kind: Appended, Count: 2}, ch)
	require.Equal(t, "after:6", src.calls[len(src.calls)-1])
	require.Equal(t, []string{"3", "4", "5", "6", "7", "8"}, chatlogtest.IDs(v.Chat))
	require.Equal(t, "8", v.Cursor.Bottom)
	require.False(t, v.Cursor.AtEnd)
}

func TestEmptyPagesChangeNothing(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)
	open(t, v, "5")
	run(v, v.PageBackward())
	run(v, v.PageForward())
	before := append([]chatlog.Message(nil), v.Chat...)

	require.Equal(t, NoChange, run(v, v.PageBackward()).Kind)
	require.True(t, v.Cursor.AtStart)
	require.Equal(t, NoChange, run(v, v.PageForward()).Kind)
	require.True(t, v.Cursor.AtEnd)
	require.Equal(t, before, v.Chat)

	// The edge does not stop a later trigger from asking again.
	require.NotNil(t, v.PageBackward())
}

func TestOneRequestInFlightPerDirection(t *testing.T) {
	v := newViewer(t, newFakeSource())
	require.Nil(t, v.PageBackward(), "empty chat has no cursor")
	open(t, v, "5")

	up := v.PageBackward()
	require.NotNil(t, up)
	require.Nil(t, v.PageBackward())
	down := v.PageForward()
	require.NotNil(t, down)
	require.Nil(t, v.PageForward())

	run(v, up)
	run(v, down)
	require.NotNil(t, v.PageBackward())
	require.NotNil(t, v.PageForward())
}

func TestOpenInvalidatesPagesInFlight(t *testing.T) {
	v := newViewer(t, newFakeSource())
	open(t, v, "5")

	up := v.PageBackward()
	reopen := v.Open("9")
	require.False(t, v.Cursor.PagingUp)

	late := up(context.Background())
	run(v, reopen)
	require.Equal(t, Stale, v.Apply(late).Kind)
	require.Equal(t, []string{"9"}, chatlogtest.IDs(v.Chat))
}

func TestPagingWaitsForPendingWindow(t *testing.T) {
	v := newViewer(t, newFakeSource())
	open(t, v, "5")

	reopen := v.Open("9")
	// The cursors still name the old conversation until the window lands.
	require.Nil(t, v.PageBackward())
	require.Nil(t, v.PageForward())

	run(v, reopen)
	require.Equal(t, []string{"9"}, chatlogtest.IDs(v.Chat))
	require.NotNil(t, v.PageBackward())
	require.NotNil(t, v.PageForward())
}

func TestFailedOpenReleasesPaging(t *testing.T) {
	v := newViewer(t, newFakeSource())
	open(t, v, "5")

	require.Equal(t, Failed, run(v, v.Open("missing")).Kind)
	require.NotNil(t, v.PageBackward())
}

func TestStaleWindowIsDiscarded(t *testing.T) {
	v := newViewer(t, newFakeSource())
	first := v.Open("5")
	second := v.Open("9")
	ctx := context.Background()
	late := first(ctx)
	v.Apply(second(ctx))
	require.Equal(t, Stale, v.Apply(late).Kind)
	require.Equal(t, []string{"9"}, chatlogtest.IDs(v.Chat))
}

func TestFailuresAreVisibleAndKeepContent(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)
	open(t, v, "5")

	src.err = errors.New("connection refused")
	require.Equal(t, Failed, run(v, v.PageBackward()).Kind)
	require.ErrorContains(t, v.Err, "connection refused")
	require.False(t, v.Cursor.PagingUp)
	require.Equal(t, []string{"3", "4", "5", "6"}, chatlogtest.IDs(v.Chat))

	src.err = nil
	require.Equal(t, Failed, run(v, v.Open("missing")).Kind)
	require.ErrorIs(t, v.Err, chatlog.ErrNotFound)
	require.Len(t, v.Chat, 4)

	run(v, v.Search("hello"))
	require.NoError(t, v.Err)
}

func TestPageDropsDuplicates(t *testing.T) {
	src := newFakeSource()
	src.after["6"] = append(msgs(4, 7), msgs(7)...)
	v := newViewer(t, src)
	open(t, v, "5")

	ch := run(v, v.PageForward())
	require.Equal(t, Change{Kind: Appended, Count: 1}, ch)
	require.Equal(t, []string{"3", "4", "5", "6", "7"}, chatlogtest.IDs(v.Chat))
}

func TestFullPageOfDuplicatesIsNotTheEdge(t *testing.T) {
	src := newFakeSource()
	src.after["6"] = msgs(4, 5)
	src.before["3"] = msgs(4, 3)
	v := newViewer(t, src)
	open(t, v, "5")

	require.Equal(t, NoChange, run(v, v.PageForward()).Kind)
	require.False(t, v.Cursor.AtEnd)
	require.Equal(t, NoChange, run(v, v.PageBackward()).Kind)
	require.False(t, v.Cursor.AtStart)
}

func TestLiveAppendsOnlyAtEnd(t *testing.T) {
	src := newFakeSource()
	v := newViewer(t, src)
	require.False(t, v.Live(msgs(10)[0]), "hidden chat")

	open(t, v, "5")
	require.True(t, v.Cursor.AtEnd)
	require.True(t, v.Live(msgs(10)[0]))
	require.False(t, v.Live(msgs(10)[0]), "duplicate")
	require.Equal(t, "10", v.Cursor.Bottom)

	v.Cursor.AtEnd = false
	require.False(t, v.Live(msgs(11)[0]))
	require.Equal(t, []string{"3", "4", "5", "6", "10"}, chatlogtest.IDs(v.Chat))
}

func TestTasksCarryTimeout(t *testing.T) {
	src := newFakeSource()
	v, err := New(src, Options{Timeout: time.Second})
	require.NoError(t, err)
	run(v, v.Search("hello"))
	run(v, v.Open("5"))
	require.Zero(t, src.missingDeadlines)
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestViewerOverDataService(t *testing.T) {
	store := chatstore.NewInMemoryMessageStore(chatlogtest.Conversation()...)
	s, err := api.NewServer(api.Options{Store: store})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	c, err := client.New(ts.URL)
	require.NoError(t, err)
	v := newViewer(t, c)

	run(v, v.Search("hello"))
	require.ElementsMatch(t, []string{"2", "5"}, chatlogtest.IDs(v.Results))

	open(t, v, "5")
	require.Equal(t, []string{"3", "4", "5", "6", "7"}, chatlogtest.IDs(v.Chat))

	require.Equal(t, Prepended, run(v, v.PageBackward()).Kind)
	require.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, chatlogtest.IDs(v.Chat))
	require.Equal(t, NoChange, run(v, v.PageBackward()).Kind)
	require.True(t, v.Cursor.AtStart)

	require.Equal(t, Appended, run(v, v.PageForward()).Kind)
	require.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, chatlogtest.IDs(v.Chat))
	require.True(t, v.Cursor.AtEnd)
}
