package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/orchestrator"
	"github.com/teslashibe/go-parley/pkg/playback"
	"github.com/teslashibe/go-parley/pkg/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := log.Component("parley.serve")
	if err := cfg.RequireCompletion(); err != nil {
		return err
	}

	userID, google, err := resolveUser(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg, userID, log.L())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	completer, err := newCompleter(cfg, log.L())
	if err != nil {
		return err
	}
	synth, err := newSynthesizer(cfg, log.L())
	if err != nil {
		return err
	}

	events := hub.New("events", log.L())
	audio := hub.New("audio", log.L())

	opts := []orchestrator.Option{
		orchestrator.WithStore(st),
		orchestrator.WithCompleter(completer),
		orchestrator.WithRecognizer(newRecognizer(cfg, log.L())),
		orchestrator.WithSink(web.NewEventSink(events, log.L())),
		orchestrator.WithBargeIn(cfg.BargeIn),
		orchestrator.WithLogger(log.L()),
	}
	if synth != nil {
		opts = append(opts, orchestrator.WithSynthesizer(synth))
		switch cfg.Speech.Player {
		case config.PlayerBroadcast:
			opts = append(opts, orchestrator.WithPlayer(playback.NewBroadcastPlayer(audio, log.L())))
		case config.PlayerExec:
			opts = append(opts, orchestrator.WithPlayer(playback.NewExecPlayer(cfg.Speech.PlayerCommand, log.L())))
		}
	}
	orch, err := orchestrator.New(opts...)
	if err != nil {
		return err
	}
	defer orch.Close()

	serverOpts := []web.Option{
		web.WithEventHub(events),
		web.WithAudioHub(audio),
		web.WithLogger(log.L()),
	}
	if google != nil {
		serverOpts = append(serverOpts, web.WithGoogle(google))
	}
	srv := web.NewServer(cfg.Server.Addr, orch, serverOpts...)

	logger.Info("starting", "version", version, "user", userID, "addr", cfg.Server.Addr, "speech", synth != nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown()
	})
	return g.Wait()
}
