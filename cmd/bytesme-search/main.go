package main

import (
	"flag"
	"fmt"
	"os"

	"BytesmeSearch/internal/config"
	"BytesmeSearch/internal/searchbot"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Search backend base URL (http(s):// for SSE, ws(s):// for WebSocket)")
	flag.StringVar(&cfg.StreamPath, "stream-path", cfg.StreamPath, "Path of the streaming search endpoint")
	flag.StringVar(&cfg.ProductPath, "product-path", cfg.ProductPath, "Path of the product detail endpoint")
	flag.StringVar(&cfg.Transport, "transport", "", "Push transport (sse|websocket); derived from --base-url when empty")
	flag.StringVar(&cfg.Token, "token", "", "Bearer token (defaults to $BYTESME_TOKEN)")
	flag.DurationVar(&cfg.RevealDelay, "reveal-delay", cfg.RevealDelay, "Delay before the first product is revealed")
	flag.DurationVar(&cfg.RevealStagger, "reveal-stagger", cfg.RevealStagger, "Interval between product reveals")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", 0, "Fail a search when the stream is silent this long (0 disables)")
	flag.BoolVar(&cfg.Persist, "persist", cfg.Persist, "Archive completed conversations in SQLite")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite archive path")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	flag.Parse()

	if cfg.Token == "" {
		cfg.Token = os.Getenv("BYTESME_TOKEN")
	}

	bot, err := searchbot.NewSearchBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize search: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
