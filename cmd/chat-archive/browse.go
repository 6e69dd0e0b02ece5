package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/client"
	"github.com/go-go-golems/chat-archive/pkg/config"
	"github.com/go-go-golems/chat-archive/pkg/tui"
	"github.com/go-go-golems/chat-archive/pkg/viewer"
)

func newBrowseCommand() *cobra.Command {
	var (
		noLive    bool
		highlight bool
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Search the archive and read conversations in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.FromCobra(cmd)
			if err != nil {
				return err
			}
			// Logging to the terminal would draw over the UI.
			if f, _ := cmd.Flags().GetString("log-file"); f == "" {
				log.Logger = zerolog.New(io.Discard)
			}

			c, err := client.New(s.ServerURL)
			if err != nil {
				return err
			}
			v, err := viewer.New(c, viewer.Options{
				WindowSize: s.Window,
				PageSize:   s.PageSize,
				Timeout:    s.RequestTimeout,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var live <-chan chatlog.Message
			if !noLive {
				feed, err := c.Follow(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("live feed unavailable")
				} else {
					live = feed
				}
			}
			return tui.Run(ctx, v, live, tui.Options{HighlightAnchor: highlight})
		},
	}
	cmd.Flags().BoolVar(&noLive, "no-live", false, "Do not follow new messages")
	cmd.Flags().BoolVar(&highlight, "highlight", false, "Highlight the opened message")
	return cmd
}
