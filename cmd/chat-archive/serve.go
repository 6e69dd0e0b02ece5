package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat-archive/pkg/api"
	"github.com/go-go-golems/chat-archive/pkg/config"
	"github.com/go-go-golems/chat-archive/pkg/groupme"
	"github.com/go-go-golems/chat-archive/pkg/ingest"
	"github.com/go-go-golems/chat-archive/pkg/redisstream"
)

func newServeCommand() *cobra.Command {
	var (
		poll         bool
		pollInterval time.Duration
		fromTail     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the archive over HTTP with a live feed of new messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.FromCobra(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if s.Redis.Enabled {
				start := redisstream.FromStart
				if fromTail {
					start = redisstream.FromTail
				}
				if err := redisstream.EnsureGroup(ctx, s.Redis, ingest.Topic, start); err != nil {
					return err
				}
			}
			bus, err := ingest.NewBus(ingest.Config{
				Store:  store,
				Redis:  s.Redis,
				Logger: ingest.NewWatermillLogger(log.Logger),
			})
			if err != nil {
				return err
			}

			var jobs []func(context.Context) error
			if poll {
				poller, err := newPoller(s, bus, pollInterval)
				if err != nil {
					return err
				}
				jobs = append(jobs, func(ctx context.Context) error {
					select {
					case <-bus.Running():
					case <-ctx.Done():
						return nil
					}
					return poller.Run(ctx)
				})
			}

			srv, err := api.NewServer(api.Options{
				Addr:       s.Addr,
				Store:      store,
				Bus:        bus,
				Background: jobs,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "Poll GroupMe for new messages and store them")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 10*time.Second, "Time between two polls")
	cmd.Flags().BoolVar(&fromTail, "from-tail", false, "Skip entries already in the Redis stream when the consumer group is new")
	return cmd
}

func newPoller(s config.Settings, sink groupme.Sink, interval time.Duration) (*groupme.Poller, error) {
	c, err := groupme.NewClient(s.GroupMe.BaseURL, s.GroupMe.Token, s.GroupMe.GroupID)
	if err != nil {
		return nil, err
	}
	return groupme.NewPoller(c, sink, interval, "")
}
