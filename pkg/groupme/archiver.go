package groupme

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// Fetcher is the page source the archiver walks. *Client implements it.
type Fetcher interface {
	Messages(ctx context.Context, beforeID string, limit int) ([]chatlog.Message, error)
}

// Sink receives every fetched message.
type Sink interface {
	Deliver(ctx context.Context, m chatlog.Message) error
}

type SinkFunc func(ctx context.Context, m chatlog.Message) error

func (f SinkFunc) Deliver(ctx context.Context, m chatlog.Message) error { return f(ctx, m) }

type ArchiverOptions struct {
	PageSize int
	// Interval is the minimum time between two page requests.
	Interval time.Duration
	// BeforeID resumes a previous run from an older message.
	BeforeID string
	// MaxPages stops after this many pages; 0 walks the whole history.
	MaxPages int
}

type ArchiveStats struct {
	Pages    int
	Messages int
	Failed   int
	LastID   string
}

// Archiver walks a group's history from newest to oldest.
type Archiver struct {
	fetcher Fetcher
	sink    Sink
	opts    ArchiverOptions
	limiter *rate.Limiter
}

func NewArchiver(fetcher Fetcher, sink Sink, opts ArchiverOptions) (*Archiver, error) {
	if fetcher == nil {
		return nil, errors.New("archiver: fetcher is nil")
	}
	if sink == nil {
		return nil, errors.New("archiver: sink is nil")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	return &Archiver{
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Run pages until the history is exhausted, MaxPages is reached or ctx is
// done. A message the sink rejects is logged and skipped; a failed page
// request aborts the run.
func (a *Archiver) Run(ctx context.Context) (ArchiveStats, error) {
	stats := ArchiveStats{LastID: a.opts.BeforeID}
	for {
		if a.opts.MaxPages > 0 && stats.Pages >= a.opts.MaxPages {
			return stats, nil
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return stats, errors.Wrap(err, "archiver: wait")
		}

		page, err := a.fetcher.Messages(ctx, stats.LastID, a.opts.PageSize)
		if err != nil {
			return stats, errors.Wrapf(err, "archiver: page before %q", stats.LastID)
		}
		if len(page) == 0 {
			log.Info().Int("pages", stats.Pages).Int("messages", stats.Messages).Msg("history exhausted")
			return stats, nil
		}
		stats.Pages++

		for _, m := range page {
			if err := a.sink.Deliver(ctx, m); err != nil {
				stats.Failed++
				log.Warn().Err(err).Str("message_id", m.ID).Msg("failed to save message")
			} else {
				stats.Messages++
			}
			stats.LastID = m.ID
		}
		log.Debug().
			Int("page", stats.Pages).
			Int("size", len(page)).
			Str("before_id", stats.LastID).
			Msg("archived page")
	}
}
