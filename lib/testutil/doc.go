// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides bounded-wait helpers for tests that
// exercise goroutines and callbacks.
package testutil
