// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mmbot is a Mattermost chat bot. It keeps a single session to the
// server alive, reconnecting on transient failures, dispatches inbound posts
// to its command handlers and announces itself to its owners on startup.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	flag "maunium.net/go/mauflag"

	"github.com/aiku/mmbot/pkg/boot"
	"github.com/aiku/mmbot/pkg/config"
	"github.com/aiku/mmbot/pkg/credstore"
	"github.com/aiku/mmbot/pkg/database"
	"github.com/aiku/mmbot/pkg/handler"
	"github.com/aiku/mmbot/pkg/logging"
	"github.com/aiku/mmbot/pkg/mattermost"
	"github.com/aiku/mmbot/pkg/metrics"
	"github.com/aiku/mmbot/pkg/notify"
	"github.com/aiku/mmbot/pkg/router"
	"github.com/aiku/mmbot/pkg/session"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const Name = "mmbot"

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var wantVersion = flag.MakeFull("v", "version", "View bot version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func versionString() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Tag, Commit, BuildTime)
}

func main() {
	flag.SetHelpTitles(
		"mmbot - A Mattermost chat bot.",
		"mmbot [-hv] [-c <path>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *wantVersion {
		fmt.Println(versionString())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing mmbot")

	mx := metrics.New()
	store := credstore.New(cfg.Session.Dir, *log)
	dialer := mattermost.NewDialer(mattermost.Config{
		ServerURL: cfg.Mattermost.ServerURL,
		LoginID:   cfg.Mattermost.LoginID,
		Password:  cfg.Mattermost.Password,
	}, *log)

	commands := handler.NewCommands(cfg.Bot.Name, Tag, cfg.Bot.Prefix, *log)
	events := handler.NewEvents(*log)
	messages := handler.NewMessages(commands, cfg.Bot.Owners, cfg.Private(), *log)

	manager := session.NewManager(session.Params{
		Dialer: dialer,
		Store:  store,
		Router: router.New(messages, events, mx, *log),
		Notifier: &notify.Notifier{
			BotName:   cfg.Bot.Name,
			Version:   Tag,
			OwnerName: cfg.Bot.OwnerName,
			Prefix:    cfg.Bot.Prefix,
			Mode:      notify.Mode(cfg.Bot.Mode),
			Location:  cfg.Location(),
			RepoURL:   cfg.Bot.RepoURL,
		},
		Owners:  cfg.Bot.Owners,
		Metrics: mx,
		Log:     *log,
	})

	seq := boot.New(boot.Params{
		Name:        cfg.Bot.Name,
		Version:     Tag,
		Directories: append([]string{cfg.Session.Dir}, cfg.Directories...),
		ConnectDatabase: func(ctx context.Context) (io.Closer, error) {
			db, err := database.Connect(ctx, cfg.Database, *log)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		Store:        store,
		Bootstrap:    cfg.Session.Bootstrap,
		Commands:     commands,
		Events:       events,
		Manager:      manager,
		LivenessAddr: cfg.Liveness.Addr(),
		Metrics:      mx.Handler(),
		Log:          *log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = seq.Run(ctx); err != nil {
		log.Error().Err(err).Msg("mmbot stopped with an error")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("mmbot stopped")
}
