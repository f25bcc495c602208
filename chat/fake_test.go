// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

type fakeSubscription struct {
	cancelled atomic.Bool
}

func (s *fakeSubscription) Cancel() { s.cancelled.Store(true) }

type fakeRoomListener struct {
	subscription *fakeSubscription
	callback     stream.Listener
}

// fakeRoom is an in-memory ProtocolRoom and Timeline. Paginate
// delivers the queued history page to the room's listeners.
type fakeRoom struct {
	summary stream.Summary
	names   names

	mu          sync.Mutex
	listeners   []fakeRoomListener
	history     [][]messaging.Event
	pageSizes   []int
	resets      int
	exhausted   bool
	paginateErr error

	// When release is set, Paginate signals entered and then waits for
	// release to close before serving the page.
	entered chan struct{}
	release chan struct{}
}

func newFakeRoom(id string, displayName string) *fakeRoom {
	return &fakeRoom{
		summary: stream.Summary{
			ID:          ref.MustParseRoomID(id),
			DisplayName: displayName,
			Membership:  messaging.MembershipJoin,
		},
		names: names{},
	}
}

func (r *fakeRoom) ID() ref.RoomID          { return r.summary.ID }
func (r *fakeRoom) Summary() stream.Summary { return r.summary }
func (r *fakeRoom) Timeline() Timeline      { return r }

func (r *fakeRoom) State() MemberNames {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(names, len(r.names))
	for userID, name := range r.names {
		snapshot[userID] = name
	}
	return snapshot
}

func (r *fakeRoom) setName(userID ref.UserID, name string) {
	r.mu.Lock()
	r.names[userID] = name
	r.mu.Unlock()
}

func (r *fakeRoom) Listen(listener stream.Listener) Subscription {
	subscription := &fakeSubscription{}
	r.mu.Lock()
	r.listeners = append(r.listeners, fakeRoomListener{subscription, listener})
	r.mu.Unlock()
	return subscription
}

func (r *fakeRoom) activeListeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, listener := range r.listeners {
		if !listener.subscription.cancelled.Load() {
			count++
		}
	}
	return count
}

// emit delivers an event to every active listener. Listeners that
// were cancelled still get called: discarding their callbacks is the
// registry's job.
func (r *fakeRoom) emit(event messaging.Event, direction stream.Direction) {
	r.mu.Lock()
	listeners := append([]fakeRoomListener(nil), r.listeners...)
	r.mu.Unlock()
	event.RoomID = r.summary.ID
	for _, listener := range listeners {
		listener.callback(event, direction)
	}
}

func (r *fakeRoom) ResetPagination() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.exhausted = false
}

func (r *fakeRoom) Paginate(ctx context.Context, count int, direction stream.Direction) error {
	r.mu.Lock()
	r.pageSizes = append(r.pageSizes, count)
	if r.paginateErr != nil {
		r.mu.Unlock()
		return r.paginateErr
	}
	var page []messaging.Event
	if len(r.history) > 0 {
		page = r.history[0]
		r.history = r.history[1:]
	}
	r.exhausted = len(r.history) == 0
	entered, release := r.entered, r.release
	r.mu.Unlock()

	if release != nil {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, event := range page {
		r.emit(event, stream.Backward)
	}
	return nil
}

func (r *fakeRoom) CanPaginate(direction stream.Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return direction == stream.Backward && !r.exhausted
}

type fakeSessionListener struct {
	subscription *fakeSubscription
	callback     stream.EventListener
}

// fakeProtocol is an in-memory Protocol.
type fakeProtocol struct {
	startErr error

	mu        sync.Mutex
	session   messaging.Session
	rooms     []*fakeRoom
	started   int
	closed    int
	listeners []fakeSessionListener
}

func (p *fakeProtocol) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
	return p.startErr
}

func (p *fakeProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakeProtocol) Rooms() []ProtocolRoom {
	p.mu.Lock()
	defer p.mu.Unlock()
	rooms := make([]ProtocolRoom, len(p.rooms))
	for index, room := range p.rooms {
		rooms[index] = room
	}
	return rooms
}

func (p *fakeProtocol) Room(id ref.RoomID) (ProtocolRoom, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, room := range p.rooms {
		if room.summary.ID == id {
			return room, true
		}
	}
	return nil, false
}

func (p *fakeProtocol) IsJoined(id ref.RoomID) bool {
	room, ok := p.Room(id)
	return ok && room.Summary().Membership == messaging.MembershipJoin
}

func (p *fakeProtocol) Listen(listener stream.EventListener) Subscription {
	subscription := &fakeSubscription{}
	p.mu.Lock()
	p.listeners = append(p.listeners, fakeSessionListener{subscription, listener})
	p.mu.Unlock()
	return subscription
}

// emit delivers to active session listeners only, as stream does.
func (p *fakeProtocol) emit(roomID ref.RoomID, event messaging.Event) {
	p.mu.Lock()
	listeners := append([]fakeSessionListener(nil), p.listeners...)
	p.mu.Unlock()
	for _, listener := range listeners {
		if !listener.subscription.cancelled.Load() {
			listener.callback(roomID, event)
		}
	}
}

func (p *fakeProtocol) counts() (started, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, p.closed
}

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]any
}

// homeserver is an httptest server playing a Matrix homeserver and a
// token exchange endpoint. Handlers are registered per test on mux.
type homeserver struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu       sync.Mutex
	requests []recordedRequest
}

func newHomeserver(t *testing.T) *homeserver {
	t.Helper()
	hs := &homeserver{mux: http.NewServeMux()}
	hs.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorded := recordedRequest{
			Method: request.Method,
			Path:   request.URL.Path,
			Query:  request.URL.Query(),
			Header: request.Header.Clone(),
		}
		if strings.HasPrefix(request.Header.Get("Content-Type"), "application/json") {
			data, _ := io.ReadAll(request.Body)
			json.Unmarshal(data, &recorded.Body)
			request.Body = io.NopCloser(strings.NewReader(string(data)))
		}
		hs.mu.Lock()
		hs.requests = append(hs.requests, recorded)
		hs.mu.Unlock()
		hs.mux.ServeHTTP(writer, request)
	}))
	t.Cleanup(hs.server.Close)
	return hs
}

func (hs *homeserver) handle(pattern string, handler http.HandlerFunc) {
	hs.mux.HandleFunc(pattern, handler)
}

// requestsTo returns recorded requests whose path starts with prefix.
func (hs *homeserver) requestsTo(method, prefix string) []recordedRequest {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var matched []recordedRequest
	for _, request := range hs.requests {
		if request.Method == method && strings.HasPrefix(request.Path, prefix) {
			matched = append(matched, request)
		}
	}
	return matched
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func writeMatrixError(writer http.ResponseWriter, status int, code string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]string{"errcode": code, "error": code})
}

// loginHandler answers password logins for user "me".
func loginHandler(writer http.ResponseWriter, request *http.Request) {
	var body map[string]any
	json.NewDecoder(request.Body).Decode(&body)
	if body["user"] != "me" || body["password"] != "secret" {
		writeMatrixError(writer, http.StatusForbidden, messaging.ErrCodeForbidden)
		return
	}
	writeJSON(writer, map[string]string{
		"user_id":      "@me:local",
		"access_token": "syt_access",
		"home_server":  "local",
		"device_id":    "DEVICE",
	})
}

// testManager is a configured Manager wired to a homeserver and a fake
// protocol.
type testManager struct {
	*Manager
	homeserver *homeserver
	protocol   *fakeProtocol
	servers    []string
}

func newTestManager(t *testing.T, customize func(*Options)) *testManager {
	t.Helper()
	hs := newHomeserver(t)
	hs.handle("POST /_matrix/client/v3/login", loginHandler)

	test := &testManager{Manager: NewManager(), homeserver: hs, protocol: &fakeProtocol{}}
	var serversMu sync.Mutex
	options := Options{
		HomeserverURL: func(serverName string) string {
			serversMu.Lock()
			test.servers = append(test.servers, serverName)
			serversMu.Unlock()
			return hs.server.URL
		},
		DownloadDir: t.TempDir(),
		OpenProtocol: func(session messaging.Session, options Options) (Protocol, error) {
			test.protocol.mu.Lock()
			test.protocol.session = session
			test.protocol.mu.Unlock()
			return test.protocol, nil
		},
	}
	if customize != nil {
		customize(&options)
	}
	if err := test.Configure(options); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(func() { test.Close() })
	return test
}

// login logs in as @me:local with the fake protocol.
func (tm *testManager) login(t *testing.T) {
	t.Helper()
	if err := tm.LoginWithPassword(context.Background(), "me", testToken(t, "secret"), "local"); err != nil {
		t.Fatalf("LoginWithPassword: %v", err)
	}
}
