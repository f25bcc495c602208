// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Benedicte is a command-line Matrix chat client. It logs in with a
// password or an identity-provider token, then lists rooms, follows a
// room's messages, sends text and attachments, and queries members and
// presence.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root(os.Stdout).execute(ctx, os.Args[1:], os.Stderr)
}
