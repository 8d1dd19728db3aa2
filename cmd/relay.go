package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"UltimateDJ/cache"
	"UltimateDJ/core/relay"
	"UltimateDJ/db"
	"UltimateDJ/logger"
	"UltimateDJ/repository"
	"UltimateDJ/server"
	"UltimateDJ/storage"

	"github.com/spf13/cobra"
)

var relayNoRedis bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay: canonical state, event websocket, track API and media",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 连接数据库
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database", logger.ErrorField(err))
		}
		defer db.CloseGormDB()

		var store relay.StateStore
		var presence server.Presence
		if !relayNoRedis {
			client, err := db.ConnectRedis(cfg)
			if err != nil {
				logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
			}
			defer db.CloseRedis()
			states := cache.NewStateCache(client)
			if err := states.ResetParticipants(ctx); err != nil {
				logger.Warn("Failed to reset participants", logger.ErrorField(err))
			}
			store, presence = states, states
		}

		var media storage.MediaStore
		if cfg.MinioEnabled() {
			ms, err := storage.NewMinioStore(cfg)
			if err != nil {
				logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
			}
			media = ms
		} else {
			logger.Info("MinIO not configured, serving media from disk", logger.String("dir", cfg.MediaDir))
			media = storage.NewLocalStore(cfg.MediaDir)
		}

		r := relay.New(relay.NewHub(), store)
		if err := r.Restore(ctx); err != nil {
			logger.Warn("Failed to restore canonical state, starting fresh", logger.ErrorField(err))
		}
		go r.Run(ctx)

		srv := server.New(server.Options{
			Config:   cfg,
			Relay:    r,
			Tracks:   repository.NewGormTrackRepository(gdb),
			Media:    media,
			Presence: presence,
		})
		if cfg.AuthSecret == "" {
			logger.Warn("AUTH_SECRET is empty, every participant is a controller")
		}
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Fatal("Server failed", logger.ErrorField(err))
		}
	},
}

func init() {
	relayCmd.Flags().BoolVar(&relayNoRedis, "no-redis", false, "keep the canonical state in memory only")
	rootCmd.AddCommand(relayCmd)
}
