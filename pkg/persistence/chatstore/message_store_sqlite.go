package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

type SQLiteMessageStore struct {
	db *sql.DB
	// fts is false when the sqlite3 driver was built without fts5; search
	// then falls back to LIKE matching.
	fts bool
}

var _ MessageStore = &SQLiteMessageStore{}

const messageColumns = `m.id, m.source_guid, m.created_at, m.user_id, m.group_id, m.name,
	m.avatar_url, m.text, m.system, m.attachments, m.favorited_by`

func NewSQLiteMessageStore(dsn string) (*SQLiteMessageStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite message store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteMessageStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMessageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FullText reports whether search runs on the fts5 index.
func (s *SQLiteMessageStore) FullText() bool {
	return s != nil && s.fts
}

func (s *SQLiteMessageStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
		  id TEXT PRIMARY KEY,
		  source_guid TEXT NOT NULL DEFAULT '',
		  created_at INTEGER NOT NULL DEFAULT 0,
		  user_id TEXT NOT NULL DEFAULT '',
		  group_id TEXT NOT NULL DEFAULT '',
		  name TEXT NOT NULL DEFAULT '',
		  avatar_url TEXT NOT NULL DEFAULT '',
		  text TEXT NOT NULL DEFAULT '',
		  system INTEGER NOT NULL DEFAULT 0,
		  attachments TEXT NOT NULL DEFAULT '[]',
		  favorited_by TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_created
		  ON messages(created_at, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite message store: migrate")
		}
	}

	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		  message_id UNINDEXED,
		  name,
		  text
		);`)
	if err != nil {
		if !strings.Contains(err.Error(), "no such module") {
			return errors.Wrap(err, "sqlite message store: migrate fts")
		}
		log.Warn().Err(err).Msg("sqlite built without fts5, search falls back to LIKE")
		s.fts = false
		return nil
	}
	s.fts = true
	return nil
}

func (s *SQLiteMessageStore) SaveMessage(ctx context.Context, m chatlog.Message) error {
	return s.SaveMessages(ctx, []chatlog.Message{m})
}

func (s *SQLiteMessageStore) SaveMessages(ctx context.Context, ms []chatlog.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	if len(ms) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, m := range ms {
		if err := validateMessage(m); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range ms {
		attachments, err := json.Marshal(lo.Ternary(m.Attachments == nil, []chatlog.Attachment{}, m.Attachments))
		if err != nil {
			return errors.Wrap(err, "sqlite message store: marshal attachments")
		}
		favoritedBy, err := json.Marshal(lo.Ternary(m.FavoritedBy == nil, []string{}, m.FavoritedBy))
		if err != nil {
			return errors.Wrap(err, "sqlite message store: marshal favorited_by")
		}
		system := 0
		if m.System {
			system = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, source_guid, created_at, user_id, group_id, name, avatar_url, text, system, attachments, favorited_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			  source_guid = excluded.source_guid,
			  created_at = excluded.created_at,
			  user_id = excluded.user_id,
			  group_id = excluded.group_id,
			  name = excluded.name,
			  avatar_url = excluded.avatar_url,
			  text = excluded.text,
			  system = excluded.system,
			  attachments = excluded.attachments,
			  favorited_by = excluded.favorited_by
		`, m.ID, m.SourceGUID, m.CreatedAt, m.UserID, m.GroupID, m.Name, m.AvatarURL, m.Text, system, string(attachments), string(favoritedBy)); err != nil {
			return errors.Wrap(err, "sqlite message store: upsert message")
		}
		if !s.fts {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE message_id = ?`, m.ID); err != nil {
			return errors.Wrap(err, "sqlite message store: clear fts row")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages_fts (message_id, name, text) VALUES (?, ?, ?)`, m.ID, m.Name, m.Text); err != nil {
			return errors.Wrap(err, "sqlite message store: index message")
		}
	}

	return tx.Commit()
}

func (s *SQLiteMessageStore) GetMessage(ctx context.Context, id string) (chatlog.Message, error) {
	if s == nil || s.db == nil {
		return chatlog.Message{}, errors.New("sqlite message store: db is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return chatlog.Message{}, chatlog.ErrEmptyID
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chatlog.Message{}, errors.Wrapf(chatlog.ErrNotFound, "message %s", id)
	}
	if err != nil {
		return chatlog.Message{}, errors.Wrap(err, "sqlite message store: get message")
	}
	return m, nil
}

func (s *SQLiteMessageStore) Search(ctx context.Context, query string, limit int) ([]chatlog.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite message store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	limit = normalizeLimit(limit, DefaultSearchLimit)
	terms := searchTerms(query)
	if len(terms) == 0 {
		return []chatlog.Message{}, nil
	}

	var (
		q    string
		args []any
	)
	if s.fts {
		q = `SELECT ` + messageColumns + `
			FROM messages_fts
			JOIN messages m ON m.id = messages_fts.message_id
			WHERE messages_fts MATCH ?
			ORDER BY messages_fts.rank, m.created_at DESC
			LIMIT ?`
		args = []any{ftsQuery(terms), limit}
	} else {
		clauses := make([]string, 0, len(terms))
		for _, term := range terms {
			clauses = append(clauses, `(m.text LIKE ? ESCAPE '\' OR m.name LIKE ? ESCAPE '\')`)
			pattern := "%" + escapeLike(term) + "%"
			args = append(args, pattern, pattern)
		}
		q = `SELECT ` + messageColumns + `
			FROM messages m
			WHERE ` + strings.Join(clauses, " AND ") + `
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite message store: search")
	}
	return collectMessages(rows)
}

func (s *SQLiteMessageStore) Window(ctx context.Context, id string, before, after int) (chatlog.Window, error) {
	anchor, err := s.GetMessage(ctx, id)
	if err != nil {
		return chatlog.Window{}, err
	}
	older, err := s.page(ctx, anchor, windowSide(before), false)
	if err != nil {
		return chatlog.Window{}, err
	}
	newer, err := s.page(ctx, anchor, windowSide(after), true)
	if err != nil {
		return chatlog.Window{}, err
	}
	return chatlog.Window{
		BeforeMessages: lo.Reverse(older),
		Message:        anchor,
		AfterMessages:  newer,
	}, nil
}

func (s *SQLiteMessageStore) Before(ctx context.Context, id string, limit int) ([]chatlog.Message, error) {
	cursor, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, cursor, normalizeLimit(limit, DefaultPageLimit), false)
}

func (s *SQLiteMessageStore) After(ctx context.Context, id string, limit int) ([]chatlog.Message, error) {
	cursor, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, cursor, normalizeLimit(limit, DefaultPageLimit), true)
}

// page returns up to limit messages strictly before (or after) cursor in
// (created_at, id) order, nearest first.
func (s *SQLiteMessageStore) page(ctx context.Context, cursor chatlog.Message, limit int, forward bool) ([]chatlog.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := `SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.created_at < ? OR (m.created_at = ? AND m.id < ?)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`
	if forward {
		q = `SELECT ` + messageColumns + `
			FROM messages m
			WHERE m.created_at > ? OR (m.created_at = ? AND m.id > ?)
			ORDER BY m.created_at ASC, m.id ASC
			LIMIT ?`
	}
	rows, err := s.db.QueryContext(ctx, q, cursor.CreatedAt, cursor.CreatedAt, cursor.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite message store: page")
	}
	return collectMessages(rows)
}

func (s *SQLiteMessageStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite message store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite message store: count")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chatlog.Message, error) {
	var (
		m           chatlog.Message
		system      int64
		attachments string
		favoritedBy string
	)
	if err := row.Scan(
		&m.ID,
		&m.SourceGUID,
		&m.CreatedAt,
		&m.UserID,
		&m.GroupID,
		&m.Name,
		&m.AvatarURL,
		&m.Text,
		&system,
		&attachments,
		&favoritedBy,
	); err != nil {
		return chatlog.Message{}, err
	}
	m.System = system == 1
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return chatlog.Message{}, errors.Wrap(err, "unmarshal attachments")
		}
	}
	if favoritedBy != "" && favoritedBy != "[]" {
		if err := json.Unmarshal([]byte(favoritedBy), &m.FavoritedBy); err != nil {
			return chatlog.Message{}, errors.Wrap(err, "unmarshal favorited_by")
		}
	}
	m.LikeCount = len(m.FavoritedBy)
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]chatlog.Message, error) {
	defer func() { _ = rows.Close() }()
	out := make([]chatlog.Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite message store: scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite message store: iterate messages")
	}
	return out, nil
}

// ftsQuery quotes every term so user input cannot use fts5 query syntax.
func ftsQuery(terms []string) string {
	quoted := lo.Map(terms, func(term string, _ int) string {
		return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	})
	return strings.Join(quoted, " ")
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
