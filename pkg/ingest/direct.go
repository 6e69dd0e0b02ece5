package ingest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/groupme"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

// DirectSink saves messages synchronously, without a bus.
type DirectSink struct {
	Store     chatstore.MessageStore
	Listeners []Listener
}

var _ groupme.Sink = &DirectSink{}

func (d *DirectSink) Deliver(ctx context.Context, m chatlog.Message) error {
	if d == nil || d.Store == nil {
		return errors.New("ingest: direct sink has no store")
	}
	if err := d.Store.SaveMessage(ctx, m); err != nil {
		return err
	}
	for _, l := range d.Listeners {
		l(m)
	}
	return nil
}
