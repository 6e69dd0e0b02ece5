package redisstream

// Settings holds Redis Streams transport configuration for the ingest bus.
type Settings struct {
	Enabled  bool   `yaml:"enabled" env:"CHAT_ARCHIVE_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"CHAT_ARCHIVE_REDIS_ADDR"`
	Group    string `yaml:"group" env:"CHAT_ARCHIVE_REDIS_GROUP"`
	Consumer string `yaml:"consumer" env:"CHAT_ARCHIVE_REDIS_CONSUMER"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "chat-archive",
		Consumer: "archive-1",
	}
}
