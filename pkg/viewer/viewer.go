// Package viewer holds the state of the conversation viewer: search
// results, the chat window around a selected message and the paging
// cursors at both of its edges.
//
// A Viewer is owned by a single goroutine. Operations return a Task to run
// elsewhere and every completion comes back through Apply, which drops
// completions issued before a newer search or open.
package viewer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// Source is the data service. *client.Client implements it.
type Source interface {
	Search(ctx context.Context, q string, limit int) ([]chatlog.Message, error)
	Window(ctx context.Context, id string, before, after int) (chatlog.Window, error)
	Before(ctx context.Context, id string, limit int) ([]chatlog.Message, error)
	After(ctx context.Context, id string, limit int) ([]chatlog.Message, error)
}

type Options struct {
	// WindowSize is the number of neighbours requested on each side of an
	// opened message.
	WindowSize  int
	PageSize    int
	SearchLimit int
	Timeout     time.Duration
}

func DefaultOptions() Options {
	return Options{WindowSize: 10, PageSize: 20, SearchLimit: 50, Timeout: 10 * time.Second}
}

// Cursor is the paging state of the chat window. AtStart and AtEnd record
// that the last response in that direction came back short, so nothing
// further was known at that point.
type Cursor struct {
	Top        string
	Bottom     string
	PagingUp   bool
	PagingDown bool
	AtStart    bool
	AtEnd      bool
}

type Viewer struct {
	src  Source
	opts Options

	Results  []chatlog.Message
	Chat     []chatlog.Message
	Cursor   Cursor
	Selected string
	Visible  bool
	// Err is the last failure, cleared by the next success.
	Err error

	searchToken uint64
	chatEpoch   uint64

	// opening is set while a window request is outstanding; the cursors
	// still point into the previous conversation until it lands.
	opening bool
	present map[string]struct{}
}

func New(src Source, opts Options) (*Viewer, error) {
	if src == nil {
		return nil, errors.New("viewer: source is required")
	}
	def := DefaultOptions()
	if opts.WindowSize <= 0 {
		opts.WindowSize = def.WindowSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = def.SearchLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Viewer{src: src, opts: opts, present: map[string]struct{}{}}, nil
}

func (v *Viewer) Options() Options { return v.opts }

// Search invalidates any earlier search and returns the request for q.
func (v *Viewer) Search(q string) Task {
	v.searchToken++
	token, src, limit := v.searchToken, v.src, v.opts.SearchLimit
	return v.withTimeout(func(ctx context.Context) Msg {
		res, err := src.Search(ctx, q, limit)
		return SearchDone{Token: token, Query: q, Results: res, Err: err}
	})
}

// Open invalidates the current chat window, including pages in flight, and
// returns the request for the window around id. The chat keeps its content
// until the window arrives.
func (v *Viewer) Open(id string) Task {
	v.chatEpoch++
	v.opening = true
	v.Selected = id
	v.Cursor.PagingUp, v.Cursor.PagingDown = false, false
	v.Cursor.AtStart, v.Cursor.AtEnd = false, false
	epoch, src, n := v.chatEpoch, v.src, v.opts.WindowSize
	return v.withTimeout(func(ctx context.Context) Msg {
		w, err := src.Window(ctx, id, n, n)
		return WindowDone{Epoch: epoch, ID: id, Window: w, Err: err}
	})
}

// PageBackward requests the messages before the first one shown. It
// returns nil when the chat is empty, a window is being opened or a
// backward page is already in flight. Reaching the start does not stop
// further requests; an empty page changes nothing.
func (v *Viewer) PageBackward() Task {
	if len(v.Chat) == 0 || v.opening || v.Cursor.PagingUp {
		return nil
	}
	v.Cursor.PagingUp = true
	return v.page(Backward, v.Cursor.Top, v.src.Before)
}

// PageForward mirrors PageBackward at the bottom edge.
func (v *Viewer) PageForward() Task {
	if len(v.Chat) == 0 || v.opening || v.Cursor.PagingDown {
		return nil
	}
	v.Cursor.PagingDown = true
	return v.page(Forward, v.Cursor.Bottom, v.src.After)
}

func (v *Viewer) page(dir Direction, cursor string, fetch func(context.Context, string, int) ([]chatlog.Message, error)) Task {
	epoch, limit := v.chatEpoch, v.opts.PageSize
	return v.withTimeout(func(ctx context.Context) Msg {
		ms, err := fetch(ctx, cursor, limit)
		return PageDone{Epoch: epoch, Direction: dir, Cursor: cursor, Messages: ms, Err: err}
	})
}

// Live appends a message pushed by the live feed when the window already
// shows the newest messages. It reports whether m was added.
func (v *Viewer) Live(m chatlog.Message) bool {
	if !v.Visible || !v.Cursor.AtEnd || v.Cursor.PagingDown || m.ID == "" {
		return false
	}
	if _, ok := v.present[m.ID]; ok {
		return false
	}
	v.Chat = append(v.Chat, m)
	v.present[m.ID] = struct{}{}
	v.Cursor.Bottom = m.ID
	return true
}

// Apply folds a task completion into the state.
func (v *Viewer) Apply(msg Msg) Change {
	switch msg := msg.(type) {
	case SearchDone:
		return v.applySearch(msg)
	case WindowDone:
		return v.applyWindow(msg)
	case PageDone:
		return v.applyPage(msg)
	}
	return Change{}
}

func (v *Viewer) applySearch(msg SearchDone) Change {
	if msg.Token != v.searchToken {
		return Change{Kind: Stale}
	}
	if msg.Err != nil {
		v.Err = errors.Wrapf(msg.Err, "search %q", msg.Query)
		return Change{Kind: Failed}
	}
	v.Err = nil
	v.Results = append([]chatlog.Message(nil), msg.Results...)
	return Change{Kind: ResultsReplaced, Count: len(v.Results)}
}

func (v *Viewer) applyWindow(msg WindowDone) Change {
	if msg.Epoch != v.chatEpoch {
		return Change{Kind: Stale}
	}
	v.opening = false
	if msg.Err != nil {
		v.Err = errors.Wrapf(msg.Err, "open %s", msg.ID)
		return Change{Kind: Failed}
	}
	v.Err = nil
	v.Chat = msg.Window.Messages()
	v.present = make(map[string]struct{}, len(v.Chat))
	for _, m := range v.Chat {
		v.present[m.ID] = struct{}{}
	}
	// A short side means the service had nothing more in that direction.
	v.Cursor = Cursor{
		Top:     v.Chat[0].ID,
		Bottom:  v.Chat[len(v.Chat)-1].ID,
		AtStart: len(msg.Window.BeforeMessages) < v.opts.WindowSize,
		AtEnd:   len(msg.Window.AfterMessages) < v.opts.WindowSize,
	}
	v.Visible = true
	return Change{Kind: ChatReplaced, Count: len(v.Chat)}
}

func (v *Viewer) applyPage(msg PageDone) Change {
	if msg.Epoch != v.chatEpoch {
		return Change{Kind: Stale}
	}
	if msg.Direction == Forward {
		v.Cursor.PagingDown = false
	} else {
		v.Cursor.PagingUp = false
	}
	if msg.Err != nil {
		v.Err = errors.Wrapf(msg.Err, "page %s from %s", msg.Direction, msg.Cursor)
		return Change{Kind: Failed}
	}
	v.Err = nil

	fresh := lo.Filter(msg.Messages, func(m chatlog.Message, _ int) bool {
		_, dup := v.present[m.ID]
		return !dup && m.ID != ""
	})
	fresh = lo.UniqBy(fresh, func(m chatlog.Message) string { return m.ID })
	// Only a short response says the edge was reached; a full page of
	// duplicates does not.
	short := len(msg.Messages) < v.opts.PageSize
	if msg.Direction == Forward {
		v.Cursor.AtEnd = short
	} else {
		v.Cursor.AtStart = short
	}
	if len(fresh) == 0 {
		return Change{Kind: NoChange}
	}
	for _, m := range fresh {
		v.present[m.ID] = struct{}{}
	}

	if msg.Direction == Forward {
		v.Chat = append(v.Chat, fresh...)
		v.Cursor.Bottom = v.Chat[len(v.Chat)-1].ID
		return Change{Kind: Appended, Count: len(fresh)}
	}
	// Pages arrive nearest first; inserting each at the top keeps the chat
	// chronological.
	chat := make([]chatlog.Message, 0, len(fresh)+len(v.Chat))
	chat = append(chat, lo.Reverse(fresh)...)
	v.Chat = append(chat, v.Chat...)
	v.Cursor.Top = v.Chat[0].ID
	return Change{Kind: Prepended, Count: len(fresh)}
}

func (v *Viewer) withTimeout(t Task) Task {
	timeout := v.opts.Timeout
	return func(ctx context.Context) Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return t(ctx)
	}
}
