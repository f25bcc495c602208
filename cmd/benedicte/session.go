// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/benedicte-foundation/benedicte/chat"
	"github.com/benedicte-foundation/benedicte/lib/config"
	"github.com/benedicte-foundation/benedicte/lib/instrument"
	"github.com/benedicte-foundation/benedicte/lib/secret"
)

// sessionFlags are the connection flags shared by every command that
// talks to the homeserver.
type sessionFlags struct {
	configPath   string
	server       string
	user         string
	passwordFile string
	tokenFile    string
	exchangeURL  string
}

func (f *sessionFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to benedicte.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&f.server, "server", "", "homeserver name for password login (overrides homeserver.server_name)")
	flagSet.StringVarP(&f.user, "user", "u", "", "username for password login")
	flagSet.StringVar(&f.passwordFile, "password-file", "", "file containing the password, or - for stdin (default: prompt)")
	flagSet.StringVar(&f.tokenFile, "token-file", "", "file containing an identity-provider token; logs in by token exchange instead of password")
	flagSet.StringVar(&f.exchangeURL, "exchange-url", "", "token exchange endpoint (overrides auth.token_exchange_url)")
}

// loadConfig reads the configuration named by --config or the
// environment, falling back to defaults when neither is set.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// chatOptions maps the configuration onto manager options. sink may
// be nil.
func chatOptions(cfg *config.Config, logger *slog.Logger, sink instrument.Sink) chat.Options {
	options := chat.Options{
		PageSize:                cfg.Pagination.PageSize,
		AnalyticsKey:            cfg.Analytics.Key,
		AnalyticsSink:           sink,
		AnalyticsFlushThreshold: cfg.Analytics.FlushThreshold,
		HTTPClient:              &http.Client{Timeout: cfg.HTTP.Timeout},
		Logger:                  logger,
		TokenExchangeHeaders:    cfg.Auth.TokenExchangeHeaders,
		DownloadDir:             cfg.Attachments.DownloadDir,
	}
	if baseURL := cfg.Homeserver.BaseURL; baseURL != "" {
		homeserverURL := cfg.HomeserverURL()
		options.HomeserverURL = func(string) string { return homeserverURL }
	}
	return options
}

// openSpool opens the instrumentation spool, or returns nil when
// recording is disabled.
func openSpool(cfg *config.Config) (instrument.Sink, error) {
	if cfg.Analytics.SpoolPath == "" {
		return nil, nil
	}
	compression, err := instrument.ParseCompression(cfg.Analytics.Compression)
	if err != nil {
		return nil, err
	}
	return instrument.OpenSpoolFile(cfg.Analytics.SpoolPath, compression)
}

// connect configures a manager from the flags and logs in. The caller
// must Close the returned manager.
func connect(ctx context.Context, flags *sessionFlags) (*chat.Manager, *slog.Logger, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	sink, err := openSpool(cfg)
	if err != nil {
		return nil, nil, err
	}

	manager := chat.NewManager()
	if err := manager.Configure(chatOptions(cfg, logger, sink)); err != nil {
		if sink != nil {
			sink.Close()
		}
		return nil, nil, err
	}
	if err := login(ctx, manager, cfg, flags); err != nil {
		manager.Close()
		return nil, nil, err
	}
	return manager, logger, nil
}

func login(ctx context.Context, manager *chat.Manager, cfg *config.Config, flags *sessionFlags) error {
	if flags.tokenFile != "" {
		exchangeURL := flags.exchangeURL
		if exchangeURL == "" {
			exchangeURL = cfg.Auth.TokenExchangeURL
		}
		if exchangeURL == "" {
			return usageError("--token-file needs --exchange-url or auth.token_exchange_url")
		}
		token, err := secret.ReadFromPath(flags.tokenFile)
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		defer token.Close()
		return manager.LoginWithExternalToken(ctx, token, exchangeURL)
	}

	if flags.user == "" {
		return usageError("--user or --token-file is required")
	}
	server := flags.server
	if server == "" {
		server = cfg.Homeserver.ServerName
	}
	if server == "" {
		return usageError("--server or homeserver.server_name is required for password login")
	}
	password, err := readPassword(flags.passwordFile, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	defer password.Close()
	return manager.LoginWithPassword(ctx, flags.user, password, server)
}

// readPassword reads the password from a file, stdin ("-"), or an
// echo-free terminal prompt when path is empty.
func readPassword(path string, stdin *os.File, prompt io.Writer) (*secret.Buffer, error) {
	if path != "" {
		password, err := secret.ReadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return password, nil
	}

	descriptor := int(stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, errors.New("no terminal available for a password prompt (use --password-file)")
	}
	fmt.Fprint(prompt, "Password: ")
	data, err := term.ReadPassword(descriptor)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	defer secret.Zero(data)
	if len(data) == 0 {
		return nil, errors.New("password is empty")
	}
	return secret.NewFromBytes(data)
}
