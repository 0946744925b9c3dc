package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/orchestrator"
	"github.com/teslashibe/go-parley/pkg/playback"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Chat with the assistant from the terminal. Replies are spoken when a
speech provider is configured.

Commands: /retry retries the last unsaved message, /stop stops the voice,
/quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return chat(ctx, root.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// terminalSink prints what a chat user needs to see.
type terminalSink struct {
	out io.Writer
}

func (t terminalSink) Publish(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventTurnAdded:
		if ev.Turn != nil && ev.Turn.Author == transcript.AuthorAssistant {
			fmt.Fprintf(t.out, "assistant: %s\n", ev.Turn.Text)
		}
	case orchestrator.EventStoreAppendFail:
		fmt.Fprintln(t.out, "(not saved, type /retry to try again)")
	case orchestrator.EventCompletionFailed:
		fmt.Fprintf(t.out, "(no reply: %s)\n", ev.Reason)
	case orchestrator.EventSynthesisFailed, orchestrator.EventPlaybackFailed:
		fmt.Fprintf(t.out, "(voice unavailable: %s)\n", ev.Error)
	}
}

func chat(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	logger := log.Component("parley.chat")
	if err := cfg.RequireCompletion(); err != nil {
		return err
	}

	userID, _, err := resolveUser(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg, userID, log.L())
	if err != nil {
		return err
	}
	defer closeStore()

	completer, err := newCompleter(cfg, log.L())
	if err != nil {
		return err
	}
	synth, err := newSynthesizer(cfg, log.L())
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithStore(st),
		orchestrator.WithCompleter(completer),
		orchestrator.WithSink(terminalSink{out: out}),
		orchestrator.WithLogger(log.L()),
	}
	if synth != nil && cfg.Speech.Player == config.PlayerExec {
		opts = append(opts,
			orchestrator.WithSynthesizer(synth),
			orchestrator.WithPlayer(playback.NewExecPlayer(cfg.Speech.PlayerCommand, log.L())),
		)
	}
	orch, err := orchestrator.New(opts...)
	if err != nil {
		return err
	}
	defer orch.Close()

	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error("transcript subscription failed", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var lastTurn string
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				orch.Wait()
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/stop":
				orch.StopPlayback()
				continue
			case "/retry":
				if lastTurn == "" {
					fmt.Fprintln(out, "(nothing to retry)")
					continue
				}
				if _, err := orch.RetryAppend(ctx, lastTurn); err != nil {
					fmt.Fprintf(out, "(%v)\n", err)
				}
				continue
			}

			turn, err := orch.Submit(ctx, line, transcript.OriginTyped)
			switch {
			case errors.Is(err, orchestrator.ErrEmptyInput):
				fmt.Fprintln(out, "(message cannot be empty)")
			case errors.Is(err, orchestrator.ErrSubmissionInFlight):
				fmt.Fprintln(out, "(still sending the previous message)")
			case err != nil:
				return err
			default:
				lastTurn = turn.LocalID
			}
		}
	}
}
