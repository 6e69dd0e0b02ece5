package groupme

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// AfterFetcher reads messages newer than a known id. *Client implements it.
type AfterFetcher interface {
	Fetcher
	MessagesAfter(ctx context.Context, afterID string, limit int) ([]chatlog.Message, error)
}

// Poller follows a group's new messages and delivers them to a sink.
type Poller struct {
	fetcher  AfterFetcher
	sink     Sink
	interval time.Duration
	lastID   string
}

// NewPoller starts after lastID; an empty lastID starts after the newest
// message upstream at the first poll.
func NewPoller(fetcher AfterFetcher, sink Sink, interval time.Duration, lastID string) (*Poller, error) {
	if fetcher == nil || sink == nil {
		return nil, errors.New("poller: fetcher and sink are required")
	}
	if interval <= 0 {
		return nil, errors.New("poller: interval must be positive")
	}
	return &Poller{fetcher: fetcher, sink: sink, interval: interval, lastID: lastID}, nil
}

// Run polls until ctx is done. Upstream errors are logged and retried at the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("after_id", p.lastID).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one round and returns how many messages were delivered.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if p.lastID == "" {
		newest, err := p.fetcher.Messages(ctx, "", 1)
		if err != nil {
			return 0, err
		}
		if len(newest) == 0 {
			return 0, nil
		}
		p.lastID = newest[0].ID
		return 0, nil
	}

	delivered := 0
	for {
		page, err := p.fetcher.MessagesAfter(ctx, p.lastID, DefaultPageSize)
		if err != nil {
			return delivered, err
		}
		if len(page) == 0 {
			return delivered, nil
		}
		for _, m := range page {
			if err := p.sink.Deliver(ctx, m); err != nil {
				log.Warn().Err(err).Str("message_id", m.ID).Msg("failed to deliver polled message")
			} else {
				delivered++
			}
			p.lastID = m.ID
		}
		if len(page) < DefaultPageSize {
			return delivered, nil
		}
	}
}

// LastID is the newest id seen so far.
func (p *Poller) LastID() string { return p.lastID }
