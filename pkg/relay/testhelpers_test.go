// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aiku/chatrelay/pkg/relay/payload"
)

var errScripted = errors.New("scripted failure")

// sentText records one SendText call.
type sentText struct {
	Address string
	Text    string
}

// fakeSession is an in-memory Session. Tests drive it by emitting events
// and scripting Connect and send failures.
type fakeSession struct {
	mu       sync.Mutex
	handler  func(SessionEvent)
	connects int
	destroys int
	// connectErrs is consumed one per Connect; nil entries succeed.
	connectErrs []error
	// failAllConnects makes every Connect fail once connectErrs is empty.
	failAllConnects bool
	// connectGate, when set, holds every Connect until it is closed.
	connectGate chan struct{}
	inConnect   int
	maxOverlap  int

	contacts   map[string]*payload.Contact
	contactErr error
	chats      map[string]*payload.Chat
	chatErr    error
	sendErrs   map[string]error
	sent       []sentText
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		contacts: map[string]*payload.Contact{},
		chats:    map[string]*payload.Chat{},
		sendErrs: map[string]error{},
	}
}

func (f *fakeSession) SetEventHandler(handler func(SessionEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeSession) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	f.inConnect++
	f.maxOverlap = max(f.maxOverlap, f.inConnect)
	gate := f.connectGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inConnect--
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	if f.failAllConnects {
		return errScripted
	}
	return nil
}

func (f *fakeSession) Contact(ctx context.Context, id string) (*payload.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	return f.contacts[id], nil
}

func (f *fakeSession) Chat(ctx context.Context, id string) (*payload.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chats[id], nil
}

func (f *fakeSession) SendText(_ context.Context, address, text string) (*SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrs[address]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentText{Address: address, Text: text})
	return &SentMessage{ID: "msg-" + address, Timestamp: time.Unix(1700000000, 0)}, nil
}

func (f *fakeSession) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

// emit delivers evt to the registered handler outside the lock, the way a
// real session's read loop does.
func (f *fakeSession) emit(evt SessionEvent) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func (f *fakeSession) setConnectGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectGate = gate
}

// connectState reports how many Connect calls are in flight and the most
// that ever overlapped.
func (f *fakeSession) connectState() (inFlight, maxOverlap int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inConnect, f.maxOverlap
}

func (f *fakeSession) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSession) Destroys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys
}

func (f *fakeSession) Sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

// fakeTarget is an httptest relay target that records delivered payloads.
type fakeTarget struct {
	Server *httptest.Server

	mu       sync.Mutex
	payloads []payload.Payload
	headers  []http.Header
	// status is returned for every request; 0 means 200.
	status int
}

func newFakeTarget(t *testing.T) *fakeTarget {
	t.Helper()
	ft := &fakeTarget{}
	ft.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p payload.Payload
		if err := json.Unmarshal(body, &p); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		ft.mu.Lock()
		ft.payloads = append(ft.payloads, p)
		ft.headers = append(ft.headers, r.Header.Clone())
		status := ft.status
		ft.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ft.Server.Close)
	return ft
}

func (ft *fakeTarget) Payloads() []payload.Payload {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]payload.Payload(nil), ft.payloads...)
}

func (ft *fakeTarget) Headers() []http.Header {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]http.Header(nil), ft.headers...)
}

// testConfig returns a post-processed config with short timings.
func testConfig(t *testing.T, relayURL string) *Config {
	t.Helper()
	cfg := &Config{
		Relay: RelayConfig{
			URL:              relayURL,
			TimeoutMS:        1000,
			MaxAttempts:      3,
			RetryBaseDelayMS: 1,
			ShutdownGraceMS:  1000,
		},
		Messages: MessagesConfig{MaxLength: 20, BulkDelayMS: 1},
		Session: SessionConfig{
			ReconnectIntervalMS:  5,
			ReconnectMaxAttempts: 2,
			LookupTimeoutMS:      500,
		},
	}
	require.NoError(t, cfg.PostProcess())
	return cfg
}

// newTestEngine returns a started engine whose session is already ready.
func newTestEngine(t *testing.T, cfg *Config) (*Engine, *fakeSession) {
	t.Helper()
	session := newFakeSession()
	engine, err := NewEngine(cfg, session, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	session.emit(SessionEvent{Type: EventReady})
	require.Equal(t, StatusConnected, engine.Status())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return engine, session
}

// recordingSleep replaces the engine's pacing sleep.
type recordingSleep struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}
