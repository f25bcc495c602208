// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/benedicte-foundation/benedicte/lib/config"
)

// newLogger builds the process logger from logging.level and
// logging.format. In "auto" format the handler is text when output is
// a terminal and JSON otherwise.
func newLogger(cfg *config.Config, output *os.File) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	text := cfg.Logging.Format == "text" ||
		(cfg.Logging.Format == "auto" && term.IsTerminal(int(output.Fd())))

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler), nil
}
