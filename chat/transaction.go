// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var transactionCounter atomic.Uint64

// NewTransactionID returns "m<counter>.<random>": a process-wide
// counter that never repeats, and 128 random bits so that IDs from
// separate processes sharing an access token do not collide.
func NewTransactionID() string {
	random := uuid.New()
	return fmt.Sprintf("m%d.%s", transactionCounter.Add(1), hex.EncodeToString(random[:]))
}
