package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/chat-archive/pkg/config"
	"github.com/go-go-golems/chat-archive/pkg/groupme"
	"github.com/go-go-golems/chat-archive/pkg/ingest"
)

func newArchiveCommand() *cobra.Command {
	var (
		direct   bool
		beforeID string
		maxPages int
		groupID  string
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Download a group's message history into the archive",
		Long: "Walks the group's history from the newest message back to the first one.\n" +
			"With Redis enabled the messages are published for a running 'serve' to store;\n" +
			"otherwise they are stored into the local database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.FromCobra(cmd)
			if err != nil {
				return err
			}
			if groupID != "" {
				s.GroupMe.GroupID = groupID
			}
			if s.GroupMe.Token == "" {
				token, err := askToken()
				if err != nil {
					return err
				}
				s.GroupMe.Token = token
			}
			client, err := groupme.NewClient(s.GroupMe.BaseURL, s.GroupMe.Token, s.GroupMe.GroupID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			sink, done, err := openSink(ctx, s, direct)
			if err != nil {
				return err
			}
			defer done()

			archiver, err := groupme.NewArchiver(client, sink, groupme.ArchiverOptions{
				Interval: s.GroupMe.PageInterval,
				BeforeID: beforeID,
				MaxPages: maxPages,
			})
			if err != nil {
				return err
			}
			stats, err := archiver.Run(ctx)
			log.Info().
				Int("pages", stats.Pages).
				Int("messages", stats.Messages).
				Int("failed", stats.Failed).
				Str("last_id", stats.LastID).
				Msg("archive finished")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archived %d messages in %d pages (%d failed), oldest id %s\n",
				stats.Messages, stats.Pages, stats.Failed, stats.LastID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "Write straight into the database without the ingest bus")
	cmd.Flags().StringVar(&beforeID, "before-id", "", "Resume from messages older than this id")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many pages (0 for the whole history)")
	cmd.Flags().StringVar(&groupID, "group-id", "", "GroupMe group id (overrides GROUPME_GROUP_ID)")
	return cmd
}

// openSink picks where archived messages go. The returned func releases it.
func openSink(ctx context.Context, s config.Settings, direct bool) (groupme.Sink, func(), error) {
	if s.Redis.Enabled && !direct {
		bus, err := ingest.NewBus(ingest.Config{Redis: s.Redis, Logger: ingest.NewWatermillLogger(log.Logger)})
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	}

	store, err := openStore(s)
	if err != nil {
		return nil, nil, err
	}
	if direct {
		return &ingest.DirectSink{Store: store}, func() { _ = store.Close() }, nil
	}

	bus, err := ingest.NewBus(ingest.Config{Store: store, Logger: ingest.NewWatermillLogger(log.Logger)})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- bus.Run(runCtx) }()
	select {
	case <-bus.Running():
	case err := <-errc:
		cancel()
		_ = store.Close()
		return nil, nil, errors.Wrap(err, "start ingest bus")
	}
	return bus, func() {
		cancel()
		<-errc
		_ = bus.Close()
		_ = store.Close()
	}, nil
}

func askToken() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", errors.New("GROUPME_TOKEN is not set")
	}
	ui := &input.UI{Writer: os.Stderr, Reader: os.Stdin}
	token, err := ui.Ask("GroupMe access token", &input.Options{
		Required:  true,
		Mask:      true,
		HideOrder: true,
		Loop:      true,
		ValidateFunc: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("token must not be empty")
			}
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "read token")
	}
	return strings.TrimSpace(token), nil
}
