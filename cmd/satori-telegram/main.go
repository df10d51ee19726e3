// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command satori-telegram bridges a Telegram bot account onto the Satori
// chat-bot protocol: it serves the Satori action API and event feed while
// translating both directions to Bot API calls and updates.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/satori-telegram/pkg/bridge"
	"github.com/aiku/satori-telegram/pkg/satori"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
	log.Info().Str("tag", Tag).Str("commit", Commit).Str("build_time", BuildTime).
		Msg("Starting satori-telegram")

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	botOpts := []telego.BotOption{telego.WithDiscardLogger()}
	if cfg.Telegram.APIServer != "" {
		botOpts = append(botOpts, telego.WithAPIServer(cfg.Telegram.APIServer))
	}
	bot, err := telego.NewBot(cfg.Telegram.Token, botOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram bot client")
	}

	server := satori.NewServer(satori.ServerConfig{
		Host:        cfg.Satori.Host,
		Port:        cfg.Satori.Port,
		Path:        cfg.Satori.Path,
		Token:       cfg.Satori.Token,
		HistorySize: cfg.Limits.HistorySize,
	}, log)

	client := bridge.NewTelegramClient(cfg, bot, server, log)
	client.RegisterRoutes(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Telegram")
	}
	defer client.Disconnect()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Satori server failed")
	}
	log.Info().Msg("Shut down cleanly")
}
