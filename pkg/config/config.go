// Package config loads chat-archive settings from defaults, a YAML file,
// .env and the environment, and command line flags, in that order.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chat-archive/pkg/groupme"
	"github.com/go-go-golems/chat-archive/pkg/redisstream"
)

const (
	DefaultConfigPath = "~/.chat-archive/config.yaml"
	DefaultDBPath     = "~/.chat-archive/messages.db"
)

type GroupMe struct {
	Token        string        `yaml:"token" env:"GROUPME_TOKEN"`
	GroupID      string        `yaml:"group_id" env:"GROUPME_GROUP_ID"`
	BaseURL      string        `yaml:"base_url" env:"GROUPME_BASE_URL"`
	PageInterval time.Duration `yaml:"page_interval" env:"GROUPME_PAGE_INTERVAL"`
}

// Settings fields tagged env are overridden by the variable of that name
// when it is set.
type Settings struct {
	DB             string               `yaml:"db" env:"CHAT_ARCHIVE_DB"`
	Addr           string               `yaml:"addr" env:"CHAT_ARCHIVE_ADDR"`
	ServerURL      string               `yaml:"server_url" env:"CHAT_ARCHIVE_URL"`
	GroupMe        GroupMe              `yaml:"groupme"`
	Redis          redisstream.Settings `yaml:"redis"`
	RequestTimeout time.Duration        `yaml:"request_timeout" env:"CHAT_ARCHIVE_REQUEST_TIMEOUT"`
	Window         int                  `yaml:"window" env:"CHAT_ARCHIVE_WINDOW"`
	PageSize       int                  `yaml:"page_size" env:"CHAT_ARCHIVE_PAGE_SIZE"`
}

func Defaults() Settings {
	return Settings{
		DB:        DefaultDBPath,
		Addr:      ":8080",
		ServerURL: "http://localhost:8080",
		GroupMe: GroupMe{
			BaseURL:      groupme.DefaultBaseURL,
			PageInterval: 2 * time.Second,
		},
		Redis:          redisstream.DefaultSettings(),
		RequestTimeout: 10 * time.Second,
		Window:         10,
		PageSize:       20,
	}
}

// Load layers the YAML file at path and the environment over the defaults.
// A missing file is an error only when required is set. dotenv names .env
// files to read first; missing ones are skipped.
func Load(path string, required bool, dotenv ...string) (Settings, error) {
	s := Defaults()

	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return s, errors.Wrap(err, "expand config path")
		}
		b, err := os.ReadFile(p)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return s, errors.Wrapf(err, "parse %s", p)
			}
		case os.IsNotExist(err) && !required:
		default:
			return s, errors.Wrapf(err, "read %s", p)
		}
	}

	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return s, errors.Wrapf(err, "load %s", f)
		}
	}
	if _, err := env.UnmarshalFromEnviron(&s); err != nil {
		return s, errors.Wrap(err, "environment")
	}
	return s, s.expand()
}

func (s *Settings) expand() error {
	p, err := homedir.Expand(s.DB)
	if err != nil {
		return errors.Wrap(err, "expand db path")
	}
	s.DB = p
	return nil
}

// AddFlags registers the persistent flags that override loaded settings.
func AddFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	if f.Lookup("config") == nil {
		f.String("config", DefaultConfigPath, "YAML config file")
	}
	f.String("db", "", "SQLite database path")
	f.String("addr", "", "Listen address of the data service")
	f.String("server-url", "", "Base URL of the data service")
	f.Bool("redis", false, "Use Redis Streams for the ingest bus")
	f.String("redis-addr", "", "Redis address")
	f.Duration("request-timeout", 0, "Timeout of each request to the data service")
}

// FromCobra loads settings for cmd, honouring --config and any flag the user
// set explicitly.
func FromCobra(cmd *cobra.Command) (Settings, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	if path == "" && !f.Changed("config") {
		path = DefaultConfigPath
	}
	s, err := Load(path, f.Changed("config"), ".env")
	if err != nil {
		return s, err
	}

	if f.Changed("db") {
		s.DB, _ = f.GetString("db")
		if err := s.expand(); err != nil {
			return s, err
		}
	}
	if f.Changed("addr") {
		s.Addr, _ = f.GetString("addr")
	}
	if f.Changed("server-url") {
		s.ServerURL, _ = f.GetString("server-url")
	}
	if f.Changed("redis") {
		s.Redis.Enabled, _ = f.GetBool("redis")
	}
	if f.Changed("redis-addr") {
		s.Redis.Addr, _ = f.GetString("redis-addr")
	}
	if f.Changed("request-timeout") {
		s.RequestTimeout, _ = f.GetDuration("request-timeout")
	}
	s.ServerURL = strings.TrimRight(s.ServerURL, "/")
	return s, s.Validate()
}

func (s Settings) Validate() error {
	if s.DB == "" {
		return errors.New("config: db path is empty")
	}
	if s.Window < 0 || s.PageSize < 0 {
		return errors.New("config: window and page_size must not be negative")
	}
	if s.RequestTimeout < 0 {
		return errors.New("config: request_timeout must not be negative")
	}
	return nil
}
