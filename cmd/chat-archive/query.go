package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/client"
	"github.com/go-go-golems/chat-archive/pkg/config"
)

type queryFlags struct {
	json  bool
	limit int
}

func (q *queryFlags) add(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&q.json, "json", false, "Print JSON instead of lines")
}

func newSearchCommand() *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search archived messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			ms, err := c.Search(ctx, args[0], q.limit)
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), ms, q.json)
		},
	}
	q.add(cmd)
	cmd.Flags().IntVar(&q.limit, "limit", 0, "Maximum number of results")
	return cmd
}

func newShowCommand() *cobra.Command {
	q := &queryFlags{}
	var before, after int
	cmd := &cobra.Command{
		Use:   "show <message-id>",
		Short: "Print the conversation around a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := dial(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			w, err := c.Window(ctx, args[0], before, after)
			if err != nil {
				return err
			}
			if q.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(w)
			}
			for _, m := range w.Messages() {
				prefix := "  "
				if m.ID == w.Message.ID {
					prefix = "> "
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), prefix+m.Line()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	q.add(cmd)
	cmd.Flags().IntVar(&before, "before", 10, "Messages before the selected one")
	cmd.Flags().IntVar(&after, "after", 10, "Messages after the selected one")
	return cmd
}

func dial(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	s, err := config.FromCobra(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := client.New(s.ServerURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if s.RequestTimeout <= 0 {
		ctx, cancel := context.WithCancel(cmd.Context())
		return c, ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), s.RequestTimeout)
	return c, ctx, cancel, nil
}

func printMessages(w io.Writer, ms []chatlog.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ms)
	}
	for _, m := range ms {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Line()); err != nil {
			return err
		}
	}
	return nil
}
