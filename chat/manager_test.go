// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/instrument"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/lib/testutil"
	"github.com/benedicte-foundation/benedicte/messaging"
	"github.com/benedicte-foundation/benedicte/stream"
)

const receiveTimeout = 5 * time.Second

func TestNotConfigured(t *testing.T) {
	manager := NewManager()
	if state := manager.State(); state != StateUnconfigured {
		t.Fatalf("state = %v, want unconfigured", state)
	}

	err := manager.LoginWithPassword(context.Background(), "me", testToken(t, "secret"), "local")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("LoginWithPassword error = %v, want ErrNotConfigured", err)
	}
	if err := manager.StartSession(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("StartSession error = %v, want ErrNotConfigured", err)
	}
	if _, err := manager.Rooms(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Rooms error = %v, want ErrNotConfigured", err)
	}
	if err := manager.StopSession(); err != nil {
		t.Errorf("StopSession on unconfigured manager: %v", err)
	}
}

func TestConfigureRejectsNegativePageSize(t *testing.T) {
	manager := NewManager()
	if err := manager.Configure(Options{PageSize: -1}); err == nil {
		t.Fatal("expected error for negative page size")
	}
	if state := manager.State(); state != StateUnconfigured {
		t.Errorf("state = %v, want unconfigured", state)
	}
}

func TestLoginWithPassword(t *testing.T) {
	test := newTestManager(t, nil)
	if state := test.State(); state != StateConfiguring {
		t.Fatalf("state before login = %v, want configuring", state)
	}

	test.login(t)

	if state := test.State(); state != StateActive {
		t.Errorf("state = %v, want active", state)
	}
	if !test.HasSession() {
		t.Error("HasSession = false after login")
	}
	credentials, ok := test.Credentials()
	if !ok {
		t.Fatal("no credentials after login")
	}
	if credentials.UserID.String() != "@me:local" {
		t.Errorf("user ID = %q, want %q", credentials.UserID, "@me:local")
	}
	if credentials.HomeServer != "local" || credentials.DeviceID != "DEVICE" {
		t.Errorf("home server, device = %q, %q; want local, DEVICE", credentials.HomeServer, credentials.DeviceID)
	}
	if credentials.AccessToken() != "syt_access" {
		t.Errorf("access token = %q, want %q", credentials.AccessToken(), "syt_access")
	}

	started, closed := test.protocol.counts()
	if started != 1 || closed != 0 {
		t.Errorf("protocol started %d closed %d, want 1 and 0", started, closed)
	}
	if got := test.protocol.session.UserID().String(); got != "@me:local" {
		t.Errorf("protocol session user = %q, want @me:local", got)
	}

	logins := test.homeserver.requestsTo(http.MethodPost, "/_matrix/client/v3/login")
	if len(logins) != 1 {
		t.Fatalf("got %d login requests, want 1", len(logins))
	}
	if logins[0].Body["type"] != "m.login.password" || logins[0].Body["user"] != "me" {
		t.Errorf("login body = %v", logins[0].Body)
	}
	for _, server := range test.servers {
		if server != "local" {
			t.Errorf("homeserver URL requested for %q, want local", server)
		}
	}

	if err := test.StartSession(context.Background()); err != nil {
		t.Errorf("StartSession while active: %v", err)
	}
	if started, _ := test.protocol.counts(); started != 1 {
		t.Errorf("StartSession while active restarted the protocol (%d starts)", started)
	}
}

func TestLoginFailure(t *testing.T) {
	test := newTestManager(t, nil)

	err := test.LoginWithPassword(context.Background(), "me", testToken(t, "wrong"), "local")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthenticationError", err)
	}
	if authErr.Method != "password" {
		t.Errorf("method = %q, want password", authErr.Method)
	}
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Errorf("error %v does not carry M_FORBIDDEN", err)
	}
	if _, ok := test.Credentials(); ok {
		t.Error("credentials stored after failed login")
	}
	if state := test.State(); state != StateConfiguring {
		t.Errorf("state = %v, want configuring", state)
	}
	if started, _ := test.protocol.counts(); started != 0 {
		t.Errorf("protocol started %d times after failed login", started)
	}
}

func TestLoginStartFailureClearsCredentials(t *testing.T) {
	test := newTestManager(t, nil)
	test.protocol.startErr = errors.New("initial sync failed")

	err := test.LoginWithPassword(context.Background(), "me", testToken(t, "secret"), "local")
	var networkErr *NetworkError
	if !errors.As(err, &networkErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if _, ok := test.Credentials(); ok {
		t.Error("credentials kept after session start failed")
	}
	if test.HasSession() {
		t.Error("HasSession = true after start failure")
	}
	if state := test.State(); state != StateConfiguring {
		t.Errorf("state = %v, want configuring", state)
	}
	if _, closed := test.protocol.counts(); closed != 1 {
		t.Errorf("protocol closed %d times, want 1", closed)
	}
}

func TestLoginWhileActive(t *testing.T) {
	test := newTestManager(t, nil)
	test.login(t)

	err := test.LoginWithPassword(context.Background(), "me", testToken(t, "secret"), "local")
	if err == nil {
		t.Fatal("second login succeeded while a session was active")
	}
	if started, _ := test.protocol.counts(); started != 1 {
		t.Errorf("protocol started %d times, want 1", started)
	}
	if state := test.State(); state != StateActive {
		t.Errorf("state = %v, want active", state)
	}
}

func TestLoginWithExternalToken(t *testing.T) {
	test := newTestManager(t, nil)
	test.homeserver.handle("GET /exchange", func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer idp-token" {
			writeMatrixError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken)
			return
		}
		writeJSON(writer, map[string]string{
			"userId":      "@alice:matrix.example.org",
			"accessToken": "syt_exchanged",
		})
	})

	err := test.LoginWithExternalToken(context.Background(), testToken(t, "idp-token"), test.homeserver.server.URL+"/exchange")
	if err != nil {
		t.Fatalf("LoginWithExternalToken: %v", err)
	}

	exchanges := test.homeserver.requestsTo(http.MethodGet, "/exchange")
	if len(exchanges) != 1 {
		t.Fatalf("got %d exchange requests, want 1", len(exchanges))
	}
	if got := exchanges[0].Header.Get("typeAuth"); got != "/individu" {
		t.Errorf("typeAuth header = %q, want %q", got, "/individu")
	}

	credentials, ok := test.Credentials()
	if !ok {
		t.Fatal("no credentials after token login")
	}
	if credentials.UserID.String() != "@alice:matrix.example.org" {
		t.Errorf("user ID = %q", credentials.UserID)
	}
	if credentials.HomeServer != "matrix.example.org" {
		t.Errorf("home server = %q, want matrix.example.org", credentials.HomeServer)
	}
	if credentials.DeviceID != "" {
		t.Errorf("device ID = %q, want empty", credentials.DeviceID)
	}
	if credentials.AccessToken() != "syt_exchanged" {
		t.Errorf("access token = %q", credentials.AccessToken())
	}
	if !slices.Contains(test.servers, "matrix.example.org") {
		t.Errorf("homeserver URL never resolved for matrix.example.org (resolved %v)", test.servers)
	}
}

func TestLoginWithExternalTokenRejected(t *testing.T) {
	test := newTestManager(t, nil)
	test.homeserver.handle("GET /exchange", func(writer http.ResponseWriter, request *http.Request) {
		writeMatrixError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken)
	})

	err := test.LoginWithExternalToken(context.Background(), testToken(t, "expired"), test.homeserver.server.URL+"/exchange")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || authErr.Method != "token" {
		t.Fatalf("error = %v, want token *AuthenticationError", err)
	}
	if _, ok := test.Credentials(); ok {
		t.Error("credentials stored after rejected exchange")
	}
}

func TestAuthResponseDecoding(t *testing.T) {
	var response messaging.AuthResponse
	raw := `{"user_id":"@a:b","access_token":"tok","home_server":"h","device_id":"d"}`
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if response.UserID.String() != "@a:b" || response.AccessToken != "tok" ||
		response.HomeServer != "h" || response.DeviceID != "d" {
		t.Errorf("decoded %+v", response)
	}
	if got := HomeServerFromUserID("@a:matrix.example.org"); got != "matrix.example.org" {
		t.Errorf("HomeServerFromUserID = %q, want matrix.example.org", got)
	}
}

func TestStopSessionTwice(t *testing.T) {
	test := newTestManager(t, nil)
	test.login(t)

	if err := test.StopSession(); err != nil {
		t.Fatalf("first StopSession: %v", err)
	}
	if err := test.StopSession(); err != nil {
		t.Fatalf("second StopSession: %v", err)
	}
	if state := test.State(); state != StateStopped {
		t.Errorf("state = %v, want stopped", state)
	}
	if _, ok := test.Credentials(); ok {
		t.Error("credentials kept after StopSession")
	}
	if _, closed := test.protocol.counts(); closed != 1 {
		t.Errorf("protocol closed %d times, want 1", closed)
	}
	if _, err := test.Rooms(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Rooms after stop: error = %v, want ErrNotAuthenticated", err)
	}
}

func TestStopSessionDiscardsMessageListeners(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	events := make(chan Event, 4)
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { events <- event }); err != nil {
		t.Fatalf("StartMessageListener: %v", err)
	}
	if test.registry.len() != 1 {
		t.Fatalf("registry has %d entries, want 1", test.registry.len())
	}

	if err := test.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if test.registry.len() != 0 {
		t.Errorf("registry has %d entries after stop, want 0", test.registry.len())
	}
	if room.activeListeners() != 0 {
		t.Errorf("room has %d active listeners after stop", room.activeListeners())
	}

	room.emit(messageEvent(aliceID, map[string]any{"msgtype": "m.text", "body": "late"}, 0), stream.Forward)
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "event delivered after StopSession")
}

func TestStartMessageListenerReplaces(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	first := make(chan Event, 4)
	second := make(chan Event, 4)
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { first <- event }); err != nil {
		t.Fatalf("first StartMessageListener: %v", err)
	}
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { second <- event }); err != nil {
		t.Fatalf("second StartMessageListener: %v", err)
	}

	if test.registry.len() != 1 {
		t.Errorf("registry has %d entries, want 1", test.registry.len())
	}
	if room.activeListeners() != 1 {
		t.Errorf("room has %d active listeners, want 1", room.activeListeners())
	}
	if room.resets != 2 {
		t.Errorf("pagination reset %d times, want 2", room.resets)
	}

	room.setName(aliceID, "Alice")
	room.emit(messageEvent(aliceID, map[string]any{"msgtype": "m.text", "body": "hi"}, 0), stream.Forward)

	event := testutil.RequireReceive(t, second, receiveTimeout, "replacement listener got nothing")
	message, ok := event.(*Message)
	if !ok {
		t.Fatalf("event = %T, want *Message", event)
	}
	if message.Body != "hi" || message.SenderDisplayName != "Alice" || message.IsHistorical {
		t.Errorf("message = %+v", message)
	}
	testutil.RequireNoReceive(t, first, 50*time.Millisecond, "replaced listener still receiving")
}

func TestStartMessageListenerHistory(t *testing.T) {
	test := newTestManager(t, func(options *Options) { options.PageSize = 2 })
	room := newFakeRoom("!general:local", "General")
	room.names[bobID] = "Bob"
	room.history = [][]messaging.Event{
		{
			messageEvent(bobID, map[string]any{"msgtype": "m.text", "body": "two"}, 2000),
			messageEvent(bobID, map[string]any{"msgtype": "m.text", "body": "one"}, 3000),
		},
		{
			messageEvent(bobID, map[string]any{"msgtype": "m.text", "body": "zero"}, 4000),
		},
	}
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	if !test.HasMoreMessages(room.ID()) {
		t.Error("HasMoreMessages = false before any pagination")
	}

	events := make(chan Event, 8)
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { events <- event }); err != nil {
		t.Fatalf("StartMessageListener: %v", err)
	}
	for _, want := range []string{"two", "one"} {
		event := testutil.RequireReceive(t, events, receiveTimeout, "history message %q", want)
		message := event.(*Message)
		if message.Body != want || !message.IsHistorical || message.SenderDisplayName != "Bob" {
			t.Errorf("history message = %+v, want historical %q from Bob", message, want)
		}
	}
	if !test.HasMoreMessages(room.ID()) {
		t.Error("HasMoreMessages = false with a page left")
	}

	if err := test.LoadMoreMessages(context.Background(), room.ID(), 0); err != nil {
		t.Fatalf("LoadMoreMessages: %v", err)
	}
	event := testutil.RequireReceive(t, events, receiveTimeout, "second history page")
	if message := event.(*Message); message.Body != "zero" || !message.IsHistorical {
		t.Errorf("second page message = %+v", message)
	}
	if test.HasMoreMessages(room.ID()) {
		t.Error("HasMoreMessages = true after history was exhausted")
	}
	if !slices.Equal(room.pageSizes, []int{2, 2}) {
		t.Errorf("page sizes = %v, want [2 2]", room.pageSizes)
	}
}

func TestStartMessageListenerErrors(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	room.paginateErr = errors.New("connection reset")
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	err := test.StartMessageListener(context.Background(), ref.MustParseRoomID("!missing:local"), func(Event) {})
	if !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("unknown room: error = %v, want ErrUnknownRoom", err)
	}

	err = test.StartMessageListener(context.Background(), room.ID(), func(Event) {})
	var networkErr *NetworkError
	if !errors.As(err, &networkErr) {
		t.Fatalf("pagination failure: error = %v, want *NetworkError", err)
	}
	if test.registry.len() != 0 {
		t.Errorf("registry has %d entries after failed start, want 0", test.registry.len())
	}
	if room.activeListeners() != 0 {
		t.Errorf("room has %d active listeners after failed start", room.activeListeners())
	}

	test.StopMessageListener(room.ID())
}

func TestPaginationDuringRestartDoesNotLeak(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	room.history = [][]messaging.Event{
		{messageEvent(bobID, map[string]any{"msgtype": "m.text", "body": "last"}, 1000)},
	}
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	room.mu.Lock()
	room.entered = make(chan struct{}, 1)
	room.release = make(chan struct{})
	room.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- test.LoadMoreMessages(context.Background(), room.ID(), 0) }()
	testutil.RequireReceive(t, room.entered, receiveTimeout, "pagination to start")

	if err := test.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	test.login(t)
	close(room.release)
	if err := testutil.RequireReceive(t, done, receiveTimeout, "LoadMoreMessages to return"); err != nil {
		t.Fatalf("LoadMoreMessages: %v", err)
	}

	if room.CanPaginate(stream.Backward) {
		t.Fatal("room still has history after the page was served")
	}
	if !test.HasMoreMessages(room.ID()) {
		t.Error("HasMoreMessages = false in the new session; exhaustion leaked from the stopped one")
	}
}

func TestStopMessageListener(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	events := make(chan Event, 4)
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { events <- event }); err != nil {
		t.Fatalf("StartMessageListener: %v", err)
	}
	test.StopMessageListener(room.ID())
	test.StopMessageListener(room.ID())

	room.emit(typingEventFor(room.ID(), aliceID), stream.Forward)
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "event delivered after StopMessageListener")
}

func typingEventFor(roomID ref.RoomID, userIDs ...ref.UserID) messaging.Event {
	raw := make([]any, len(userIDs))
	for index, userID := range userIDs {
		raw[index] = userID.String()
	}
	return messaging.Event{Type: messaging.EventTypeTyping, RoomID: roomID, Content: map[string]any{"user_ids": raw}}
}

func TestTypingEventsReachListener(t *testing.T) {
	test := newTestManager(t, nil)
	room := newFakeRoom("!general:local", "General")
	room.names[aliceID] = "Alice"
	test.protocol.rooms = []*fakeRoom{room}
	test.login(t)

	events := make(chan Event, 4)
	if err := test.StartMessageListener(context.Background(), room.ID(), func(event Event) { events <- event }); err != nil {
		t.Fatalf("StartMessageListener: %v", err)
	}

	room.emit(typingEventFor(room.ID(), selfID), stream.Forward)
	room.emit(typingEventFor(room.ID(), aliceID), stream.Forward)
	event := testutil.RequireReceive(t, events, receiveTimeout, "typing change")
	change, ok := event.(*TypingChange)
	if !ok {
		t.Fatalf("event = %T, want *TypingChange", event)
	}
	if change.State != TypingStarted || change.SenderID != aliceID || change.SenderDisplayName != "Alice" {
		t.Errorf("typing change = %+v", change)
	}

	room.emit(typingEventFor(room.ID()), stream.Forward)
	event = testutil.RequireReceive(t, events, receiveTimeout, "typing stop")
	if change := event.(*TypingChange); change.State != TypingStopped {
		t.Errorf("typing state = %v, want stopped", change.State)
	}
}

func TestRooms(t *testing.T) {
	test := newTestManager(t, nil)
	general := newFakeRoom("!general:local", "General")
	general.summary.Creator = bobID
	general.names[bobID] = "Bob"
	invite := newFakeRoom("!secret:local", "Secret")
	invite.summary.Membership = messaging.MembershipInvite
	invite.summary.Inviter = aliceID
	invite.summary.InviterName = "Alice"
	test.protocol.rooms = []*fakeRoom{general, invite}
	test.login(t)

	rooms, err := test.Rooms()
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	want := []Room{
		{ID: general.ID(), DisplayName: "General", IsJoined: true, InvitedByUserID: bobID, InvitedByName: "Bob"},
		{ID: invite.ID(), DisplayName: "Secret", IsJoined: false, InvitedByUserID: aliceID, InvitedByName: "Alice"},
	}
	if !slices.Equal(rooms, want) {
		t.Errorf("rooms = %+v\nwant %+v", rooms, want)
	}
}

func TestRoomListener(t *testing.T) {
	test := newTestManager(t, nil)
	general := newFakeRoom("!general:local", "General")
	test.protocol.rooms = []*fakeRoom{general}
	test.login(t)

	first := make(chan []Room, 4)
	second := make(chan []Room, 4)
	if err := test.StartRoomListener(func(rooms []Room) { first <- rooms }); err != nil {
		t.Fatalf("StartRoomListener: %v", err)
	}

	selfKey := selfID.String()
	member := messaging.Event{
		Type:     messaging.EventTypeMember,
		Sender:   selfID,
		StateKey: &selfKey,
		Content:  map[string]any{"membership": "join"},
	}
	test.protocol.emit(general.ID(), member)
	rooms := testutil.RequireReceive(t, first, receiveTimeout, "room list after member event")
	if len(rooms) != 1 || rooms[0].ID != general.ID() {
		t.Errorf("rooms = %+v", rooms)
	}

	test.protocol.emit(general.ID(), messageEvent(aliceID, map[string]any{"body": "hi"}, 0))
	testutil.RequireNoReceive(t, first, 50*time.Millisecond, "room list refreshed for a message")

	if err := test.StartRoomListener(func(rooms []Room) { second <- rooms }); err != nil {
		t.Fatalf("replacing StartRoomListener: %v", err)
	}
	test.protocol.emit(general.ID(), member)
	testutil.RequireReceive(t, second, receiveTimeout, "replacement room listener")
	testutil.RequireNoReceive(t, first, 50*time.Millisecond, "replaced room listener still called")

	test.StopRoomListener()
	test.protocol.emit(general.ID(), member)
	testutil.RequireNoReceive(t, second, 50*time.Millisecond, "room listener called after stop")
}

func TestJoinFirstRoom(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		test := newTestManager(t, nil)
		test.login(t)
		room, err := test.JoinFirstRoom(context.Background())
		if err != nil || room != nil {
			t.Fatalf("JoinFirstRoom = %v, %v; want nil, nil", room, err)
		}
	})

	t.Run("already joined", func(t *testing.T) {
		test := newTestManager(t, nil)
		test.protocol.rooms = []*fakeRoom{newFakeRoom("!general:local", "General")}
		test.login(t)
		room, err := test.JoinFirstRoom(context.Background())
		if err != nil {
			t.Fatalf("JoinFirstRoom: %v", err)
		}
		if room == nil || room.ID.String() != "!general:local" || !room.IsJoined {
			t.Errorf("room = %+v", room)
		}
		if joins := test.homeserver.requestsTo(http.MethodPost, "/_matrix/client/v3/join/"); len(joins) != 0 {
			t.Errorf("sent %d join requests for a joined room", len(joins))
		}
	})

	t.Run("invited", func(t *testing.T) {
		test := newTestManager(t, nil)
		invite := newFakeRoom("!secret:local", "Secret")
		invite.summary.Membership = messaging.MembershipInvite
		test.protocol.rooms = []*fakeRoom{invite}
		test.homeserver.handle("POST /_matrix/client/v3/join/{room}", func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(writer, map[string]string{"room_id": request.PathValue("room")})
		})
		test.login(t)

		room, err := test.JoinFirstRoom(context.Background())
		if err != nil {
			t.Fatalf("JoinFirstRoom: %v", err)
		}
		if room == nil || !room.IsJoined {
			t.Errorf("room = %+v, want joined", room)
		}
		joins := test.homeserver.requestsTo(http.MethodPost, "/_matrix/client/v3/join/")
		if len(joins) != 1 || joins[0].Path != "/_matrix/client/v3/join/!secret:local" {
			t.Errorf("join requests = %+v", joins)
		}
	})

	t.Run("join refused", func(t *testing.T) {
		test := newTestManager(t, nil)
		invite := newFakeRoom("!secret:local", "Secret")
		invite.summary.Membership = messaging.MembershipInvite
		test.protocol.rooms = []*fakeRoom{invite}
		test.homeserver.handle("POST /_matrix/client/v3/join/{room}", func(writer http.ResponseWriter, request *http.Request) {
			writeMatrixError(writer, http.StatusForbidden, messaging.ErrCodeForbidden)
		})
		test.login(t)

		room, err := test.JoinFirstRoom(context.Background())
		if err == nil || room != nil {
			t.Fatalf("JoinFirstRoom = %v, %v; want error", room, err)
		}
		if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
			t.Errorf("error %v does not carry M_FORBIDDEN", err)
		}
	})
}

func TestSendMessage(t *testing.T) {
	test := newTestManager(t, nil)
	test.homeserver.handle("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, map[string]string{"event_id": "$sent"})
	})
	roomID := ref.MustParseRoomID("!general:local")

	if _, err := test.SendMessage(context.Background(), roomID, OutgoingMessage{Text: "early"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("send before login: error = %v, want ErrNotAuthenticated", err)
	}

	test.login(t)

	eventID, err := test.SendMessage(context.Background(), roomID, OutgoingMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("SendMessage text: %v", err)
	}
	if eventID != "$sent" {
		t.Errorf("event ID = %q, want $sent", eventID)
	}

	_, err = test.SendMessage(context.Background(), roomID, OutgoingMessage{
		ContentURL: "mxc://local/abc",
		Filename:   "photo.png",
	})
	if err != nil {
		t.Fatalf("SendMessage attachment: %v", err)
	}

	if _, err := test.SendMessage(context.Background(), roomID, OutgoingMessage{}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("empty message: error = %v, want ErrInvalidMessage", err)
	}

	sends := test.homeserver.requestsTo(http.MethodPut, "/_matrix/client/v3/rooms/!general:local/send/m.room.message/")
	if len(sends) != 2 {
		t.Fatalf("got %d send requests, want 2", len(sends))
	}
	if sends[0].Body["msgtype"] != "m.text" || sends[0].Body["body"] != "hello" {
		t.Errorf("text body = %v", sends[0].Body)
	}
	attachment := sends[1].Body
	if attachment["msgtype"] != "m.image" || attachment["body"] != "photo.png" || attachment["url"] != "mxc://local/abc" {
		t.Errorf("attachment body = %v", attachment)
	}
	if sends[0].Path == sends[1].Path {
		t.Errorf("both sends used transaction path %q", sends[0].Path)
	}
}

func TestSendTypingState(t *testing.T) {
	test := newTestManager(t, nil)
	test.homeserver.handle("PUT /_matrix/client/v3/rooms/{room}/typing/{user}", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, map[string]any{})
	})
	roomID := ref.MustParseRoomID("!general:local")

	if err := test.SendTypingState(context.Background(), roomID, true, 3*time.Second); err != nil {
		t.Errorf("typing without session: %v, want nil", err)
	}
	if typing := test.homeserver.requestsTo(http.MethodPut, "/_matrix/client/v3/rooms/"); len(typing) != 0 {
		t.Fatalf("typing without session sent %d requests", len(typing))
	}

	test.login(t)
	if err := test.SendTypingState(context.Background(), roomID, true, 3*time.Second); err != nil {
		t.Fatalf("SendTypingState: %v", err)
	}
	typing := test.homeserver.requestsTo(http.MethodPut, "/_matrix/client/v3/rooms/!general:local/typing/@me:local")
	if len(typing) != 1 {
		t.Fatalf("got %d typing requests, want 1", len(typing))
	}
	if typing[0].Body["typing"] != true || typing[0].Body["timeout"] != float64(3000) {
		t.Errorf("typing body = %v", typing[0].Body)
	}
}

func TestQueries(t *testing.T) {
	test := newTestManager(t, nil)
	roomID := ref.MustParseRoomID("!general:local")

	if _, err := test.GetRoomMembers(context.Background(), roomID); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("members before login: error = %v, want ErrNotAuthenticated", err)
	}

	test.homeserver.handle("GET /_matrix/client/v3/rooms/{room}/members", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, map[string]any{"chunk": []map[string]any{
			{"type": "m.room.member", "state_key": "@alice:local", "content": map[string]any{"membership": "join", "displayname": "Alice"}},
		}})
	})
	test.homeserver.handle("GET /_matrix/client/v3/presence/{user}/status", func(writer http.ResponseWriter, request *http.Request) {
		writeMatrixError(writer, http.StatusInternalServerError, messaging.ErrCodeUnknown)
	})
	test.homeserver.handle("GET /_matrix/client/v3/profile/{user}", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"displayname":`))
	})
	test.login(t)

	members, err := test.GetRoomMembers(context.Background(), roomID)
	if err != nil {
		t.Fatalf("GetRoomMembers: %v", err)
	}
	if len(members) != 1 || members[0].UserID != aliceID || members[0].DisplayName != "Alice" {
		t.Errorf("members = %+v", members)
	}

	_, err = test.GetUserPresence(context.Background(), aliceID)
	var networkErr *NetworkError
	if !errors.As(err, &networkErr) {
		t.Errorf("presence error = %v, want *NetworkError", err)
	}

	_, err = test.GetMemberDisplayName(context.Background(), aliceID)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("display name error = %v, want *DecodeError", err)
	}
}

func TestInstrumentation(t *testing.T) {
	sink := &instrument.MemorySink{}
	test := newTestManager(t, func(options *Options) {
		options.AnalyticsKey = "analytics-key"
		options.AnalyticsSink = sink
	})
	test.homeserver.handle("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, map[string]string{"event_id": "$sent"})
	})
	test.login(t)
	if _, err := test.SendMessage(context.Background(), ref.MustParseRoomID("!general:local"), OutgoingMessage{Text: "hi"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := test.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.Closed() {
		t.Error("sink not closed by Manager.Close")
	}

	var calls []string
	var paths []string
	for _, batch := range sink.Batches() {
		if batch.Key != "analytics-key" {
			t.Errorf("batch key = %q, want analytics-key", batch.Key)
		}
		for _, call := range batch.Calls {
			calls = append(calls, call.Name)
		}
		for _, request := range batch.Requests {
			paths = append(paths, request.Path)
		}
	}
	for _, want := range []string{"LoginWithPassword", "SendMessage"} {
		if !slices.Contains(calls, want) {
			t.Errorf("calls %v missing %q", calls, want)
		}
	}
	if !slices.Contains(paths, "/_matrix/client/v3/login") {
		t.Errorf("requests %v missing the login request", paths)
	}
}
