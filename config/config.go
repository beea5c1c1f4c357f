package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string

	// Assistant session strings, up to five accounts.
	StringSession  string
	StringSession2 string
	StringSession3 string
	StringSession4 string
	StringSession5 string

	OwnerID  int64
	LoggerID int64

	CallEngine string

	LogLevel      string
	DurationLimit int
	AutoEnd       bool
	VideoLimit    int

	DownloadDir string
	PlaybackDir string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	SpotifyClientID     string
	SpotifyClientSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken: os.Getenv("BOT_TOKEN"),

		StringSession:  os.Getenv("STRING_SESSION"),
		StringSession2: os.Getenv("STRING_SESSION2"),
		StringSession3: os.Getenv("STRING_SESSION3"),
		StringSession4: os.Getenv("STRING_SESSION4"),
		StringSession5: os.Getenv("STRING_SESSION5"),

		OwnerID:  getEnvAsInt64("OWNER_ID"),
		LoggerID: getEnvAsInt64("LOGGER_ID"),

		CallEngine: getEnvWithDefault("CALL_ENGINE", "ntgcalls"),

		LogLevel:      getEnvWithDefault("LOG_LEVEL", "info"),
		DurationLimit: getEnvAsIntWithDefault("DURATION_LIMIT", 17000),
		AutoEnd:       getEnvAsBool("AUTO_END"),
		VideoLimit:    getEnvAsIntWithDefault("VIDEO_LIMIT", 3),

		DownloadDir: getEnvWithDefault("DOWNLOAD_DIR", "downloads"),
		PlaybackDir: getEnvWithDefault("PLAYBACK_DIR", "playback"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvAsInt("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  os.Getenv("DB_SSLMODE"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvAsInt("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 0),

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}

	if c.DurationLimit < 1 {
		return errors.New("DURATION_LIMIT must be at least 1")
	}

	if c.VideoLimit < 0 {
		return errors.New("VIDEO_LIMIT must not be negative")
	}

	return nil
}

// SessionStrings returns the configured assistant sessions in slot order.
func (c *Config) SessionStrings() []string {
	all := []string{
		c.StringSession,
		c.StringSession2,
		c.StringSession3,
		c.StringSession4,
		c.StringSession5,
	}

	sessions := make([]string, 0, len(all))
	for _, s := range all {
		if s != "" {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func getEnvAsInt(key string) int {
	return getEnvAsIntWithDefault(key, 0)
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return 0
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return false
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c *Config) GetDBConfig() *DBConfig {
	return &DBConfig{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *Config) GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
