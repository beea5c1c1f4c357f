package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hxnx/chorus/config"
	"github.com/hxnx/chorus/internal/bot"
	"github.com/hxnx/chorus/internal/call"
)

func main() {
	fmt.Println("Chorus - Telegram Voice Chat Music Daemon")
	fmt.Println("=========================================")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: failed to load configuration: %v\n", err)
		fmt.Println("")
		fmt.Println("Please ensure you have set the following environment variables:")
		fmt.Println("  BOT_TOKEN         - Telegram bot token (required)")
		fmt.Println("  STRING_SESSION    - Assistant account session string")
		fmt.Println("")
		fmt.Println("Optional environment variables:")
		fmt.Println("  STRING_SESSION2..5 - Additional assistant sessions")
		fmt.Println("  OWNER_ID           - Owner user id for failure notices")
		fmt.Println("  LOGGER_ID          - Log channel id for StreamCall broadcasts")
		fmt.Println("  CALL_ENGINE        - Call-signaling backend (default: ntgcalls)")
		fmt.Println("  LOG_LEVEL          - Log level (debug, info, warn, error)")
		fmt.Println("  DURATION_LIMIT     - Max track duration in seconds")
		fmt.Println("  AUTO_END           - End bot-only calls after a grace period")
		fmt.Println("  DOWNLOAD_DIR       - Where downloaded media is stored")
		fmt.Println("  PLAYBACK_DIR       - Where speed re-encodes are stored")
		fmt.Println("")
		fmt.Println("Database configuration:")
		fmt.Println("  DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE")
		fmt.Println("")
		fmt.Println("Redis configuration:")
		fmt.Println("  REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB")
		fmt.Println("")
		fmt.Println("Spotify configuration:")
		fmt.Println("  SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET")
		os.Exit(1)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	logrus.Infof("configuration loaded")
	logrus.Infof("call engine: %s (registered: %v)", cfg.CallEngine, call.Engines())
	logrus.Infof("assistant sessions: %d", len(cfg.SessionStrings()))
	logrus.Infof("database: %s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	logrus.Infof("redis: %s:%d db=%d", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		logrus.Info("spotify: configured")
	} else {
		logrus.Info("spotify: not configured (spotify links will not work)")
	}

	b, err := bot.New(cfg)
	if err != nil {
		logrus.Fatalf("failed to create daemon: %v", err)
	}

	if err := b.Start(); err != nil {
		logrus.Fatalf("daemon error: %v", err)
	}
	logrus.Info("daemon is running, press CTRL+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	if err := b.Stop(); err != nil {
		logrus.Errorf("failed to stop daemon: %v", err)
	}
}
