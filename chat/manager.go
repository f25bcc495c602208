// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benedicte-foundation/benedicte/lib/instrument"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/lib/secret"
	"github.com/benedicte-foundation/benedicte/messaging"
)

// State is a Manager lifecycle state.
type State int

const (
	StateUnconfigured State = iota
	// StateConfiguring: configured, no session yet.
	StateConfiguring
	StateAuthenticating
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// activeSession is everything that exists only while a session is up.
type activeSession struct {
	userID     ref.UserID
	rest       messaging.Session
	protocol   Protocol
	dispatcher *dispatcher
	normalizer Normalizer

	// generation is the listener registry generation this session owns.
	generation uint64
}

// Manager is the chat session facade. Create one with NewManager and
// call Configure before anything else. Safe for concurrent use; login,
// start, and stop are serialized.
type Manager struct {
	credentials CredentialStore
	registry    *registry

	// lifecycle serializes login, StartSession, and StopSession.
	lifecycle sync.Mutex

	mu               sync.Mutex
	state            State
	options          Options
	recorder         *instrument.Recorder
	httpClient       *http.Client
	active           *activeSession
	roomSubscription Subscription
}

// NewManager returns an unconfigured Manager.
func NewManager() *Manager {
	return &Manager{registry: newRegistry()}
}

// Configure sets the Manager's options, replacing any earlier
// configuration. A running session keeps its HTTP client and stream;
// the page size applies immediately.
func (m *Manager) Configure(options Options) error {
	resolved, err := options.withDefaults()
	if err != nil {
		return err
	}

	var recorder *instrument.Recorder
	if resolved.AnalyticsSink != nil {
		recorder, err = instrument.NewRecorder(instrument.Config{
			Key:            resolved.AnalyticsKey,
			Sink:           resolved.AnalyticsSink,
			FlushThreshold: resolved.AnalyticsFlushThreshold,
			Clock:          resolved.Clock,
			Logger:         resolved.Logger,
		})
		if err != nil {
			return fmt.Errorf("chat: configuring instrumentation: %w", err)
		}
	}

	m.mu.Lock()
	previous := m.recorder
	m.options = resolved
	m.recorder = recorder
	m.httpClient = instrument.WrapClient(resolved.HTTPClient, recorder)
	if m.state == StateUnconfigured || m.state == StateStopped {
		m.state = StateConfiguring
	}
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			resolved.Logger.Warn("closing previous instrumentation recorder", "error", err)
		}
	}
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HasSession reports whether a session is active.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Credentials returns the stored credentials of the active session.
func (m *Manager) Credentials() (Credentials, bool) {
	return m.credentials.Current()
}

// Close stops any session and flushes instrumentation.
func (m *Manager) Close() error {
	stopErr := m.StopSession()
	m.mu.Lock()
	recorder := m.recorder
	m.recorder = nil
	m.mu.Unlock()
	return errors.Join(stopErr, recorder.Close())
}

// LoginWithPassword logs in with a password at serverHost and starts
// the session. On failure the credential store is left as it was.
func (m *Manager) LoginWithPassword(ctx context.Context, username string, password *secret.Buffer, serverHost string) (err error) {
	span := m.begin("LoginWithPassword", "server", serverHost)
	defer func() { span.End(err) }()

	return m.authenticate(ctx, "password", func(options Options, httpClient *http.Client) (Credentials, error) {
		client, err := messaging.NewClient(messaging.ClientConfig{
			HomeserverURL: options.HomeserverURL(serverHost),
			HTTPClient:    httpClient,
			Logger:        options.Logger,
		})
		if err != nil {
			return Credentials{}, err
		}
		session, err := client.Login(ctx, username, password)
		if err != nil {
			return Credentials{}, err
		}
		defer session.Close()

		token, err := secret.NewFromString(session.AccessToken())
		if err != nil {
			return Credentials{}, err
		}
		return NewCredentials(session.UserID(), session.HomeServer(), session.DeviceID(), token), nil
	})
}

// LoginWithExternalToken exchanges an identity-provider token at
// authServerURL for Matrix credentials and starts the session. The
// homeserver is the text after the last ':' of the returned user ID.
// token is read, not closed.
func (m *Manager) LoginWithExternalToken(ctx context.Context, token *secret.Buffer, authServerURL string) (err error) {
	span := m.begin("LoginWithExternalToken")
	defer func() { span.End(err) }()

	return m.authenticate(ctx, "token", func(options Options, httpClient *http.Client) (Credentials, error) {
		exchanged, err := messaging.ExchangeToken(ctx, messaging.ExchangeRequest{
			URL:        authServerURL,
			Token:      token,
			Headers:    options.TokenExchangeHeaders,
			HTTPClient: httpClient,
		})
		if err != nil {
			return Credentials{}, err
		}
		accessToken, err := secret.NewFromString(exchanged.AccessToken)
		if err != nil {
			return Credentials{}, err
		}
		return NewCredentials(exchanged.UserID, HomeServerFromUserID(exchanged.UserID.String()), "", accessToken), nil
	})
}

// HomeServerFromUserID returns the text after the last ':' of a user
// ID, or "" when there is none.
func HomeServerFromUserID(userID string) string {
	index := strings.LastIndex(userID, ":")
	if index < 0 {
		return ""
	}
	return userID[index+1:]
}

// authenticate runs one login attempt: obtain credentials, store them,
// start the session. Any failure restores the previous state and
// leaves no credentials behind.
func (m *Manager) authenticate(ctx context.Context, method string, obtain func(Options, *http.Client) (Credentials, error)) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	switch {
	case m.state == StateUnconfigured:
		m.mu.Unlock()
		return ErrNotConfigured
	case m.active != nil:
		m.mu.Unlock()
		return errors.New("chat: a session is already active; stop it before logging in again")
	}
	previousState := m.state
	m.state = StateAuthenticating
	options, httpClient := m.options, m.httpClient
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		m.state = previousState
		m.mu.Unlock()
	}

	credentials, err := obtain(options, httpClient)
	if err != nil {
		restore()
		options.Logger.Warn("login failed", "method", method, "error", err)
		return &AuthenticationError{Method: method, Err: err}
	}
	m.credentials.Set(credentials)

	if err := m.start(ctx); err != nil {
		m.credentials.Clear()
		restore()
		return err
	}
	options.Logger.Info("logged in",
		"method", method,
		"user_id", credentials.UserID,
		"home_server", credentials.HomeServer,
	)
	return nil
}

// StartSession opens the event stream for the stored credentials. A
// no-op when a session is already active.
func (m *Manager) StartSession(ctx context.Context) (err error) {
	span := m.begin("StartSession")
	defer func() { span.End(err) }()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	state, active := m.state, m.active
	m.mu.Unlock()
	if state == StateUnconfigured {
		return ErrNotConfigured
	}
	if active != nil {
		return nil
	}
	return m.start(ctx)
}

// start builds the REST session and protocol from the stored
// credentials. Called with the lifecycle lock held.
func (m *Manager) start(ctx context.Context) error {
	credentials, ok := m.credentials.Current()
	if !ok {
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	options, httpClient := m.options, m.httpClient
	m.mu.Unlock()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: options.HomeserverURL(credentials.HomeServer),
		HTTPClient:    httpClient,
		Logger:        options.Logger,
	})
	if err != nil {
		return fmt.Errorf("chat: start session: %w", err)
	}
	rest, err := client.SessionFromToken(credentials.UserID, credentials.AccessToken(), credentials.HomeServer, credentials.DeviceID)
	if err != nil {
		return fmt.Errorf("chat: start session: %w", err)
	}

	protocol, err := options.OpenProtocol(rest, options)
	if err != nil {
		rest.Close()
		return fmt.Errorf("chat: start session: %w", err)
	}
	if err := protocol.Start(ctx); err != nil {
		protocol.Close()
		rest.Close()
		return classify("start session", err)
	}

	logger := options.Logger.With("user_id", credentials.UserID)
	generation := m.registry.clear()
	m.mu.Lock()
	m.active = &activeSession{
		generation: generation,
		userID:     credentials.UserID,
		rest:       rest,
		protocol:   protocol,
		dispatcher: newDispatcher(rest, logger),
		normalizer: Normalizer{Self: credentials.UserID, Clock: options.Clock},
	}
	m.state = StateActive
	m.mu.Unlock()

	logger.Info("session started", "rooms", len(protocol.Rooms()))
	return nil
}

// StopSession closes the event stream, clears the credentials, and
// discards every room listener. Safe to call with no active session.
// Must not be called from a listener callback.
func (m *Manager) StopSession() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	active := m.active
	roomSubscription := m.roomSubscription
	m.active = nil
	m.roomSubscription = nil
	if active != nil {
		m.state = StateStopped
	}
	logger := m.options.Logger
	m.mu.Unlock()

	m.registry.clear()
	m.credentials.Clear()
	if active == nil {
		return nil
	}

	if roomSubscription != nil {
		roomSubscription.Cancel()
	}
	err := errors.Join(active.protocol.Close(), active.rest.Close())
	if logger != nil {
		logger.Info("session stopped", "user_id", active.userID)
	}
	return err
}

// session returns the active session and current options, or the
// error explaining why there is none.
func (m *Manager) session() (*activeSession, Options, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateUnconfigured {
		return nil, Options{}, ErrNotConfigured
	}
	if m.active == nil {
		return nil, m.options, ErrNotAuthenticated
	}
	return m.active, m.options, nil
}

func (m *Manager) begin(name string, attributes ...string) *instrument.Span {
	m.mu.Lock()
	recorder := m.recorder
	m.mu.Unlock()
	return recorder.Begin(name, attributes...)
}

// SendMessage sends a text message or an already-uploaded attachment
// and returns the event ID.
func (m *Manager) SendMessage(ctx context.Context, roomID ref.RoomID, message OutgoingMessage) (eventID string, err error) {
	span := m.begin("SendMessage", "room_id", roomID.String())
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return "", err
	}
	return active.dispatcher.send(ctx, roomID, message)
}

// SendTypingState reports whether the user is typing. timeout tells
// the server how long to show the indicator. Returns nil without
// doing anything when no session is active.
func (m *Manager) SendTypingState(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) (err error) {
	span := m.begin("SendTypingState", "room_id", roomID.String())
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return nil
	}
	return active.dispatcher.typing(ctx, roomID, typing, timeout)
}

// GetRoomMembers fetches a room's member list.
func (m *Manager) GetRoomMembers(ctx context.Context, roomID ref.RoomID) (members []messaging.RoomMember, err error) {
	span := m.begin("GetRoomMembers", "room_id", roomID.String())
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return nil, err
	}
	members, err = active.rest.GetRoomMembers(ctx, roomID)
	return members, classify("get room members", err)
}

// GetUserPresence fetches a user's presence.
func (m *Manager) GetUserPresence(ctx context.Context, userID ref.UserID) (presence *messaging.PresenceStatus, err error) {
	span := m.begin("GetUserPresence")
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return nil, err
	}
	presence, err = active.rest.GetPresence(ctx, userID)
	return presence, classify("get presence", err)
}

// GetMemberDisplayName fetches a user's profile display name.
func (m *Manager) GetMemberDisplayName(ctx context.Context, userID ref.UserID) (name string, err error) {
	span := m.begin("GetMemberDisplayName")
	defer func() { span.End(err) }()

	active, _, err := m.session()
	if err != nil {
		return "", err
	}
	name, err = active.rest.GetDisplayName(ctx, userID)
	return name, classify("get display name", err)
}

// roomListAffecting reports whether an event can change the room list.
func roomListAffecting(event messaging.Event) bool {
	switch event.Type {
	case messaging.EventTypeMember, messaging.EventTypeName,
		messaging.EventTypeCanonicalAlias, messaging.EventTypeCreate:
		return true
	}
	return false
}
