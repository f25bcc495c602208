// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"net/http"

	"github.com/benedicte-foundation/benedicte/lib/clock"
)

// Transport is an http.RoundTripper that records every exchange to a
// Recorder. Only method, host, and path are kept; query strings and
// headers (which carry tokens) are never recorded.
type Transport struct {
	Base     http.RoundTripper
	Recorder *Recorder
	Clock    clock.Clock
}

// WrapClient returns a copy of client whose transport records to
// recorder. A nil recorder returns client unchanged.
func WrapClient(client *http.Client, recorder *Recorder) *http.Client {
	if recorder == nil {
		return client
	}
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = &Transport{
		Base:     client.Transport,
		Recorder: recorder,
		Clock:    recorder.clock,
	}
	return &wrapped
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	now := clock.Real().Now
	if t.Clock != nil {
		now = t.Clock.Now
	}

	start := now()
	response, err := base.RoundTrip(request)
	record := Request{
		Method:     request.Method,
		Host:       request.URL.Host,
		Path:       request.URL.Path,
		Start:      start,
		DurationNS: now().Sub(start).Nanoseconds(),
	}
	if err != nil {
		record.Error = err.Error()
	} else {
		record.StatusCode = response.StatusCode
	}
	t.Recorder.RecordRequest(record)
	return response, err
}
