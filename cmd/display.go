package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"UltimateDJ/core/conn"
	"UltimateDJ/core/display"
	"UltimateDJ/core/replica"
	"UltimateDJ/logger"
	"UltimateDJ/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Follow the relay as a read-only display and log the live mix",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		id := uuid.NewString()
		wsURL, err := relaySocketURL(cfg.RelayURL, id)
		if err != nil {
			logger.Fatal("Invalid relay url", logger.ErrorField(err))
		}

		store := replica.NewStore()
		// 显示端从不发送事件，中继也会拒绝
		repl := replica.NewLWW(store, nil, id)
		display.New(store, nil)

		manager := conn.NewManager(wsURL, conn.Options{
			Header: bearerHeader(cfg.RelayToken),
			Sender: id,
			OnEvent: func(evt *model.Event) {
				if err := repl.Remote(evt); err != nil {
					logger.Warn("Dropping relay event", logger.String("type", string(evt.Type)), logger.ErrorField(err))
				}
			},
			OnDisconnect: store.ClearDecks,
		})
		manager.ConnectOnce(ctx)
		defer manager.Dispose()

		logger.Info("Display following relay", logger.String("url", wsURL))
		<-ctx.Done()
	},
}

func init() {
	rootCmd.AddCommand(displayCmd)
}
