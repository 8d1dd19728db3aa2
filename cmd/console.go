package cmd

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"UltimateDJ/config"
	"UltimateDJ/core/audio"
	"UltimateDJ/core/conn"
	"UltimateDJ/core/console"
	"UltimateDJ/core/eventloop"
	"UltimateDJ/core/replica"
	"UltimateDJ/logger"
	"UltimateDJ/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	consoleMediaDir string
	consoleCueLevel float64
	consoleRate     int
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the controller view with two decks and an interactive prompt",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tuning, err := config.LoadTuning(cfg.TuningFile)
		if err != nil {
			logger.Warn("Invalid tuning file, using defaults", logger.ErrorField(err))
		}

		// 每个进程独立的 sender，同一令牌的多个视图互不冲突
		sender := uuid.NewString()
		wsURL, err := relaySocketURL(cfg.RelayURL, sender)
		if err != nil {
			logger.Fatal("Invalid relay url", logger.ErrorField(err))
		}

		loop := eventloop.New(256)
		go loop.Run(ctx)

		engine := audio.NewEngine(consoleRate, consoleCueLevel)
		defer engine.Close()

		httpClient := &http.Client{Timeout: 60 * time.Second}
		var fetch audio.Fetcher = audio.HTTPFetcher{Base: cfg.RelayURL, Client: httpClient}
		if consoleMediaDir != "" {
			fetch = audio.FileFetcher{Root: consoleMediaDir}
		}

		// A 盘走主总线；B 盘在监听总线上预听，再由跟随输出复制到主混音
		deckA := engine.NewElement(audio.MainBus, fetch, true)
		deckB := engine.NewElement(audio.CueBus, fetch, true)
		followB := engine.NewElement(audio.MainBus, fetch, false)

		var dj *console.Console
		manager := conn.NewManager(wsURL, conn.Options{
			Header: bearerHeader(cfg.RelayToken),
			Sender: sender,
			OnEvent: func(evt *model.Event) {
				dj.HandleRemote(evt)
			},
			OnDisconnect: func() {
				dj.Disconnected()
			},
		})

		repl := replica.NewLWW(replica.NewStore(), manager, sender)
		dj = console.New(console.Options{
			Loop:    loop,
			Replica: repl,
			Sender:  sender,
			Library: &console.HTTPLibrary{Base: cfg.RelayURL, Token: cfg.RelayToken, Client: httpClient},
			Decks: map[model.DeckID]console.Outputs{
				model.DeckA: {
					Media:    deckA,
					Segments: engine.NewScratcher(audio.MainBus),
					Buffer:   deckA.Buffer,
					Tap:      deckA,
				},
				model.DeckB: {
					Media:    deckB,
					Follower: followB,
					Segments: engine.NewScratcher(audio.CueBus),
					Buffer:   deckB.Buffer,
					Tap:      deckB,
				},
			},
			Output:    engine,
			Tuning:    tuning,
			Connected: manager.Connected,
		})
		defer dj.Close()

		manager.ConnectOnce(ctx)
		defer manager.Dispose()

		done := make(chan struct{})
		defer close(done)
		if cfg.TuningFile != "" {
			err := config.WatchTuning(cfg.TuningFile, done, func(t config.Tuning) {
				logger.Info("Tuning reloaded", logger.String("file", cfg.TuningFile))
				dj.SetTuning(t)
			}, func(err error) {
				logger.Warn("Ignoring invalid tuning file", logger.ErrorField(err))
			})
			if err != nil {
				logger.Warn("Tuning hot reload disabled", logger.ErrorField(err))
			}
		}

		if _, err := dj.Refresh(ctx); err != nil {
			logger.Warn("Track library unavailable", logger.ErrorField(err))
		}

		if err := runREPL(ctx, dj, historyPath()); err != nil {
			logger.Error("Console prompt failed", logger.ErrorField(err))
		}
	},
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ultimatedj_history")
}

func init() {
	consoleCmd.Flags().StringVar(&consoleMediaDir, "media-dir", "", "read media from a local directory instead of the relay")
	consoleCmd.Flags().Float64Var(&consoleCueLevel, "cue-level", 1, "level of the cue bus on the shared speaker (0..1)")
	consoleCmd.Flags().IntVar(&consoleRate, "sample-rate", audio.DefaultSampleRate, "speaker sample rate")
	rootCmd.AddCommand(consoleCmd)
}
