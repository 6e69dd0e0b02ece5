package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
db: /tmp/chat.db
addr: ":9090"
groupme:
  group_id: "123"
  page_interval: 500ms
redis:
  enabled: true
window: 4
`)
	s, err := Load(p, true)
	require.NoError(t, err)
	require.Equal(t, "/tmp/chat.db", s.DB)
	require.Equal(t, ":9090", s.Addr)
	require.Equal(t, "123", s.GroupMe.GroupID)
	require.Equal(t, 500*time.Millisecond, s.GroupMe.PageInterval)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "localhost:6379", s.Redis.Addr, "unset keys keep defaults")
	require.Equal(t, 4, s.Window)
	require.Equal(t, 20, s.PageSize)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := Load(missing, false)
	require.NoError(t, err)
	_, err = Load(missing, true)
	require.Error(t, err)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "window: [")
	_, err := Load(p, true)
	require.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "addr: \":9090\"\n")
	env := writeFile(t, dir, ".env", "GROUPME_TOKEN=from-dotenv\nCHAT_ARCHIVE_ADDR=:7000\n")
	t.Setenv("CHAT_ARCHIVE_ADDR", ":7070")
	t.Setenv("CHAT_ARCHIVE_REDIS_ENABLED", "true")
	t.Setenv("GROUPME_TOKEN", "")
	require.NoError(t, os.Unsetenv("GROUPME_TOKEN"))

	s, err := Load(p, true, env)
	require.NoError(t, err)
	require.Equal(t, ":7070", s.Addr, "process env wins over .env")
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "from-dotenv", s.GroupMe.Token)
}

func TestEnvironmentRejectsBadValues(t *testing.T) {
	t.Setenv("CHAT_ARCHIVE_REQUEST_TIMEOUT", "soon")
	_, err := Load("", false)
	require.ErrorContains(t, err, "environment")
}

func TestEnvironmentCoversNestedSettings(t *testing.T) {
	t.Setenv("CHAT_ARCHIVE_REDIS_ADDR", "redis:6380")
	t.Setenv("CHAT_ARCHIVE_PAGE_SIZE", "7")
	t.Setenv("GROUPME_PAGE_INTERVAL", "250ms")

	s, err := Load("", false)
	require.NoError(t, err)
	require.Equal(t, "redis:6380", s.Redis.Addr)
	require.Equal(t, "chat-archive", s.Redis.Group, "unset variables keep defaults")
	require.Equal(t, 7, s.PageSize)
	require.Equal(t, 250*time.Millisecond, s.GroupMe.PageInterval)
}

func TestFromCobraFlagsWin(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "server_url: http://file:1/\n")

	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", p,
		"--db", filepath.Join(dir, "m.db"),
		"--request-timeout", "3s",
	}))

	s, err := FromCobra(cmd)
	require.NoError(t, err)
	require.Equal(t, "http://file:1", s.ServerURL)
	require.Equal(t, filepath.Join(dir, "m.db"), s.DB)
	require.Equal(t, 3*time.Second, s.RequestTimeout)
}

func TestAddFlagsKeepsRegisteredConfigFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.PersistentFlags().String("config", "", "registered elsewhere")
	require.NotPanics(t, func() { AddFlags(cmd) })
	require.NotNil(t, cmd.PersistentFlags().Lookup("server-url"))
}

func TestValidate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())
	s.PageSize = -1
	require.Error(t, s.Validate())
}
