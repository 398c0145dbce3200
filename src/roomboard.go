package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/config"
	"github.com/stake-plus/roomboard/src/data"
	"github.com/stake-plus/roomboard/src/discordbot"
	"github.com/stake-plus/roomboard/src/hub"
	"github.com/stake-plus/roomboard/src/logging"
	"github.com/stake-plus/roomboard/src/modules"
	_ "github.com/stake-plus/roomboard/src/plugins"
	"github.com/stake-plus/roomboard/src/webserver"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "roomboard",
		Usage: "ephemeral room board backed by redis",
		Flags: config.Flags(),
		Before: func(cctx *cli.Context) error {
			return logging.Setup(cctx.Bool("debug"))
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		zap.L().Fatal("unhandled error", zap.Error(err))
	}
}

func run(cctx *cli.Context) error {
	ctx := cctx.Context
	defer func() { _ = zap.L().Sync() }()
	log := zap.L().Named("main")

	cfg, err := config.FromCLI(cctx)
	if err != nil {
		return err
	}
	if cfg.MySQLDSN != "" {
		db, err := data.ConnectMySQL(cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := data.LoadSettings(db); err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if err := cfg.ApplySettings(data.GetSetting); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info("configuration loaded",
		zap.String("env", cfg.Profile.Name),
		zap.Duration("ttl", cfg.TTL),
		zap.String("plugin", cfg.Plugin),
		zap.Bool("ingestion", cfg.BackendSecret != ""),
		zap.Bool("discord", cfg.Discord.Enabled()),
	)

	rdb := data.MustRedis(cfg.RedisURL)
	defer rdb.Close()
	store := data.NewRedisStore(rdb)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	keyevents := false
	if cfg.Keyevents {
		if err := store.EnableKeyevents(ctx); err != nil {
			log.Warn("keyevents unavailable, announcing deletions explicitly", zap.Error(err))
		} else {
			keyevents = true
		}
	}

	plugin, err := board.LoadPlugin(cfg.Plugin)
	if err != nil {
		return err
	}
	manager := board.NewManager(store, board.Pipeline(plugin), board.Options{
		Prefix:    cfg.Prefix,
		TTL:       cfg.TTL,
		Channel:   cfg.Channel,
		Keyevents: keyevents,
	})

	sub, err := store.Subscribe(ctx, manager.Channel(), keyevents)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	h := hub.New(manager, manager.Keys(), hub.Options{QueueSize: cfg.QueueSize})
	description := strings.NewReplacer("{channel}", cfg.Discord.Channel, "{reaction}", discordbot.Reaction).Replace(plugin.Description())

	mods := modules.NewManager(
		modules.NewFunc("hub", func(ctx context.Context) error { return h.Run(ctx, sub.C()) }),
		webserver.New(webserver.Options{
			Listen:        cfg.Listen,
			AllowOrigins:  cfg.AllowOrigins,
			BackendSecret: cfg.BackendSecret,
			ExpireSec:     int(cfg.TTL / time.Second),
			InviteURL:     cfg.InviteURL,
			CDN:           cfg.Profile.CDN,
			Description:   description,
		}, manager, h),
	)
	if cfg.Discord.Enabled() {
		bot, err := discordbot.NewDiscordBot(discordbot.Options{
			Token:     cfg.Discord.Token,
			Master:    cfg.Discord.Master,
			Channel:   cfg.Discord.Channel,
			BoardURL:  cfg.BoardURL,
			InviteURL: cfg.InviteURL,
			TTL:       cfg.TTL,
		}, manager, plugin)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		if err := mods.Add(bot); err != nil {
			return err
		}
	}

	if err := mods.Start(ctx); err != nil {
		return err
	}
	log.Info("board running", zap.String("listen", cfg.Listen), zap.Bool("keyevents", keyevents))

	<-ctx.Done()
	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	mods.Stop(stopCtx)
	return nil
}
