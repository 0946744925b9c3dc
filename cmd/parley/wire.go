package main

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/identity"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tts"
)

const localUser = "local"

// resolveUser picks the user id namespacing the transcript. A configured
// id wins; otherwise a signed-in Google account; otherwise localUser.
func resolveUser(ctx context.Context, cfg config.Config, logger *slog.Logger) (string, *identity.Google, error) {
	if cfg.UserID != "" {
		id, err := identity.Static(cfg.UserID).UserID(ctx)
		return id, nil, err
	}
	if cfg.Google.ClientID == "" {
		return localUser, nil, nil
	}

	g, err := identity.NewGoogle(identity.GoogleConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		TokenPath:    cfg.Google.TokenPath,
		Logger:       logger,
	})
	if err != nil {
		return "", nil, err
	}
	if !g.IsAuthenticated() {
		logger.Warn("not signed in to Google, using local transcript", "url", g.AuthURL("parley"))
		return localUser, g, nil
	}
	id, err := g.UserID(ctx)
	if err != nil {
		return "", g, err
	}
	return id, g, nil
}

// openStore opens the transcript store for conversation. The returned
// function closes everything it opened.
func openStore(cfg config.Config, conversation string, logger *slog.Logger) (store.Store, func() error, error) {
	if cfg.Store.Path == "" {
		mem := store.NewMemory()
		return mem, mem.Close, nil
	}

	dsn, err := store.SQLiteDSNForFile(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	opts := []store.SQLiteOption{store.WithLogger(logger)}
	var notifier *store.Notifier
	if cfg.Store.RedisAddr != "" {
		notifier, err = store.NewRedisNotifier(store.RedisSettings{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, store.WithNotifier(notifier))
	}

	s, err := store.NewSQLite(dsn, identity.Namespace(conversation), opts...)
	if err != nil {
		if notifier != nil {
			_ = notifier.Close()
		}
		return nil, nil, err
	}
	closer := func() error {
		err := s.Close()
		if notifier != nil {
			if nerr := notifier.Close(); err == nil {
				err = nerr
			}
		}
		return err
	}
	return s, closer, nil
}

func newCompleter(cfg config.Config, logger *slog.Logger) (*inference.Completer, error) {
	opts := []inference.Option{
		inference.WithAPIKey(cfg.Completion.APIKey),
		inference.WithModel(cfg.Completion.Model),
		inference.WithTimeout(cfg.Completion.Timeout),
		inference.WithLogger(logger),
	}
	if cfg.Completion.BaseURL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.Completion.BaseURL))
	}
	if cfg.Completion.SystemPrompt != "" {
		opts = append(opts, inference.WithSystemPrompt(cfg.Completion.SystemPrompt))
	}

	client, err := inference.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return inference.NewCompleter(client, opts...), nil
}

// newSynthesizer returns nil when speech is disabled.
func newSynthesizer(cfg config.Config, logger *slog.Logger) (tts.Provider, error) {
	if !cfg.SpeechEnabled() {
		return nil, nil
	}
	opts := []tts.Option{
		tts.WithAPIKey(cfg.Speech.APIKey),
		tts.WithTimeout(cfg.Speech.Timeout),
		tts.WithLogger(logger),
	}
	if cfg.Speech.Model != "" {
		opts = append(opts, tts.WithModel(cfg.Speech.Model))
	}

	switch cfg.Speech.Provider {
	case config.SpeechOpenAI:
		if cfg.Speech.VoiceID != "" {
			opts = append(opts, tts.WithVoice(cfg.Speech.VoiceID))
		}
		p, err := tts.NewOpenAI(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		if cfg.Speech.VoiceID != "" {
			opts = append(opts, tts.WithVoice(tts.ResolveElevenLabsVoice(cfg.Speech.VoiceID)))
		}
		p, err := tts.NewElevenLabs(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func newRecognizer(cfg config.Config, logger *slog.Logger) capture.Recognizer {
	if cfg.Recognition.DeepgramAPIKey == "" {
		return capture.Unavailable{}
	}
	return capture.NewDeepgram(capture.DeepgramConfig{
		APIKey:   cfg.Recognition.DeepgramAPIKey,
		Model:    cfg.Recognition.Model,
		Language: cfg.Recognition.Language,
		Logger:   logger,
	})
}
