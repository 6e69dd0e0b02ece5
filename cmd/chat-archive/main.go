package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat-archive/pkg/config"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

func newRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:          "chat-archive",
		Short:        "Archive a GroupMe group and browse its conversations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLoggerFromCobra(cmd)
		},
	}
	if err := clay.InitGlazed("chat-archive", rootCmd); err != nil {
		return nil, err
	}
	config.AddFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newArchiveCommand(),
		newBrowseCommand(),
		newSearchCommand(),
		newShowCommand(),
	)
	return rootCmd, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd, err := newRootCommand()
	cobra.CheckErr(err)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("chat-archive failed")
		os.Exit(1)
	}
}

func openStore(s config.Settings) (*chatstore.SQLiteMessageStore, error) {
	if err := os.MkdirAll(filepath.Dir(s.DB), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	dsn, err := chatstore.SQLiteDSNForFile(s.DB)
	if err != nil {
		return nil, err
	}
	store, err := chatstore.NewSQLiteMessageStore(dsn)
	if err != nil {
		return nil, err
	}
	if !store.FullText() {
		log.Warn().Str("db", s.DB).Msg("sqlite built without fts5, search falls back to LIKE")
	}
	return store, nil
}
