package viewer

import (
	"context"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// Task performs one request off the UI goroutine. Its result is handed
// back to Viewer.Apply.
type Task func(ctx context.Context) Msg

// Msg is the completion of a Task.
type Msg interface {
	viewerMsg()
}

type Direction int

const (
	Backward Direction = iota
	Forward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

type SearchDone struct {
	Token   uint64
	Query   string
	Results []chatlog.Message
	Err     error
}

type WindowDone struct {
	Epoch  uint64
	ID     string
	Window chatlog.Window
	Err    error
}

type PageDone struct {
	Epoch     uint64
	Direction Direction
	Cursor    string
	Messages  []chatlog.Message
	Err       error
}

func (SearchDone) viewerMsg() {}
func (WindowDone) viewerMsg() {}
func (PageDone) viewerMsg()   {}

type ChangeKind int

const (
	NoChange ChangeKind = iota
	ResultsReplaced
	ChatReplaced
	Prepended
	Appended
	Failed
	Stale
)

// Change tells the renderer what Apply did. Count is the number of
// messages added for Prepended and Appended.
type Change struct {
	Kind  ChangeKind
	Count int
}
