package chatstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

const (
	DefaultPageLimit   = 20
	DefaultSearchLimit = 50
)

// MessageStore is the archive of chat messages. Paging reads return messages
// nearest to the cursor first: Before walks backwards in time, After forwards.
type MessageStore interface {
	SaveMessage(ctx context.Context, m chatlog.Message) error
	SaveMessages(ctx context.Context, ms []chatlog.Message) error
	GetMessage(ctx context.Context, id string) (chatlog.Message, error)
	Search(ctx context.Context, query string, limit int) ([]chatlog.Message, error)
	Window(ctx context.Context, id string, before, after int) (chatlog.Window, error)
	Before(ctx context.Context, id string, limit int) ([]chatlog.Message, error)
	After(ctx context.Context, id string, limit int) ([]chatlog.Message, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// SQLiteDSNForFile builds a DSN with WAL enabled so the server can read while
// the archiver writes.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite message store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

// searchTerms splits a free-text query into non-empty terms.
func searchTerms(query string) []string {
	return strings.Fields(strings.TrimSpace(query))
}

func validateMessage(m chatlog.Message) error {
	if strings.TrimSpace(m.ID) == "" {
		return chatlog.ErrEmptyID
	}
	return nil
}

// windowSide keeps an explicit zero so a window can be one-sided.
func windowSide(n int) int {
	if n < 0 {
		return DefaultPageLimit
	}
	return n
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
