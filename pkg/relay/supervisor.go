// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatrelay/pkg/relay/payload"
)

// Status is the connection state of the supervised session.
type Status string

const (
	StatusDisconnected    Status = "disconnected"
	StatusConnecting      Status = "connecting"
	StatusAwaitingPairing Status = "awaiting-pairing"
	StatusConnected       Status = "connected"
)

const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5

	destroyTimeout = 10 * time.Second
)

// SupervisorConfig bounds the reconnection policy.
type SupervisorConfig struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

// StatusInfo is a point-in-time snapshot of the supervisor.
type StatusInfo struct {
	Status               Status    `json:"status"`
	HasPairingToken      bool      `json:"has_pairing_token"`
	ReconnectAttempts    int       `json:"reconnect_attempts"`
	MaxReconnectAttempts int       `json:"max_reconnect_attempts"`
	ReconnectsExhausted  bool      `json:"reconnects_exhausted"`
	ConnectedAt          time.Time `json:"connected_at,omitzero"`
}

// Supervisor owns the session handle, tracks its lifecycle and reconnects
// after disconnects until MaxReconnectAttempts consecutive attempts fail.
// Once exhausted it stays disconnected until RegeneratePairing is called or
// the process restarts it.
type Supervisor struct {
	cfg       SupervisorConfig
	session   Session
	log       zerolog.Logger
	onMessage func(*payload.Event)

	runCtx    context.Context
	cancelRun context.CancelFunc

	// connectMu serializes destroy-and-connect sequences so a fired
	// reconnect timer and RegeneratePairing never overlap.
	connectMu sync.Mutex

	mu             sync.Mutex
	status         Status
	pairingToken   string
	reconnects     int
	exhausted      bool
	started        bool
	shutdown       bool
	reconnectTimer *time.Timer
	// reconnectGen invalidates timers that fired after being stopped.
	reconnectGen uint64
	connectedAt  time.Time
}

// NewSupervisor wraps session. onMessage receives every inbound message
// event regardless of the current status; it may be nil.
func NewSupervisor(cfg SupervisorConfig, session Session, onMessage func(*payload.Event), log zerolog.Logger) *Supervisor {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		session:   session,
		log:       log.With().Str("component", "supervisor").Logger(),
		onMessage: onMessage,
		runCtx:    ctx,
		cancelRun: cancel,
		status:    StatusDisconnected,
	}
	session.SetEventHandler(s.handleEvent)
	return s
}

// Start moves the supervisor from Disconnected to Connecting and connects
// the session. A failed connect counts as a disconnect and is retried by
// the reconnect policy; the error is still returned.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutDown
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.connect()
}

// connect must be called with connectMu held.
func (s *Supervisor) connect() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutDown
	}
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	s.log.Info().Msg("Connecting session")
	if err := s.session.Connect(s.runCtx); err != nil {
		s.log.Error().Err(err).Msg("Failed to connect session")
		s.handleDisconnected("connect failed: " + err.Error())
		return fmt.Errorf("failed to connect session: %w", err)
	}
	return nil
}

// handleEvent dispatches a session event.
func (s *Supervisor) handleEvent(evt SessionEvent) {
	switch evt.Type {
	case EventPairingToken:
		s.handlePairingToken(evt.PairingToken)
	case EventAuthenticated:
		s.log.Info().Msg("Session authenticated")
	case EventAuthFailure:
		s.mu.Lock()
		s.pairingToken = ""
		s.mu.Unlock()
		s.log.Error().Str("reason", evt.Reason).Msg("Session authentication failed")
	case EventReady:
		s.handleReady()
	case EventMessage:
		if evt.Message != nil && s.onMessage != nil {
			s.onMessage(evt.Message)
		}
	case EventDisconnected:
		s.handleDisconnected(evt.Reason)
	default:
		s.log.Trace().Str("event_type", string(evt.Type)).Msg("Unhandled session event")
	}
}

func (s *Supervisor) handlePairingToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || token == "" {
		return
	}
	s.pairingToken = token
	s.setStatusLocked(StatusAwaitingPairing)
	s.log.Info().Msg("Pairing token issued, waiting for the operator to pair")
}

func (s *Supervisor) handleReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.stopReconnectLocked()
	s.reconnects = 0
	s.exhausted = false
	s.pairingToken = ""
	s.connectedAt = time.Now()
	s.setStatusLocked(StatusConnected)
	s.log.Info().Msg("Session ready")
}

// handleDisconnected applies the reconnect policy. Disconnects while
// already disconnected are ignored, which also keeps a pending reconnect
// from being scheduled twice.
func (s *Supervisor) handleDisconnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusDisconnected {
		return
	}
	s.setStatusLocked(StatusDisconnected)
	s.pairingToken = ""
	s.connectedAt = time.Time{}

	if s.shutdown || s.reconnectTimer != nil {
		return
	}
	if s.reconnects >= s.cfg.MaxReconnectAttempts {
		s.exhausted = true
		s.log.Error().
			Str("reason", reason).
			Int("attempts", s.reconnects).
			Bool("fatal_for_session", true).
			Msg("Reconnect attempts exhausted, session must be restarted")
		return
	}

	s.reconnects++
	s.log.Warn().
		Str("reason", reason).
		Int("attempt", s.reconnects).
		Int("max_attempts", s.cfg.MaxReconnectAttempts).
		Dur("interval", s.cfg.ReconnectInterval).
		Msg("Session disconnected, scheduling reconnect")
	s.reconnectGen++
	gen := s.reconnectGen
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectInterval, func() { s.reconnect(gen) })
}

func (s *Supervisor) reconnect(gen uint64) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if gen != s.reconnectGen {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	if s.shutdown || s.status != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.destroySession()
	_ = s.connect()
}

func (s *Supervisor) destroySession() {
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := s.session.Destroy(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to destroy session")
	}
}

// RegeneratePairing tears the session down and connects again from
// scratch, which makes the session issue a fresh pairing token. It also
// clears an exhausted reconnect counter.
func (s *Supervisor) RegeneratePairing(_ context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutDown
	}
	s.stopReconnectLocked()
	s.started = true
	s.reconnects = 0
	s.exhausted = false
	s.pairingToken = ""
	s.connectedAt = time.Time{}
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.log.Info().Msg("Regenerating pairing")
	s.destroySession()
	return s.connect()
}

// Shutdown stops reconnecting and destroys the session.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.stopReconnectLocked()
	s.pairingToken = ""
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.cancelRun()
	if err := s.session.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func (s *Supervisor) stopReconnectLocked() {
	s.reconnectGen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Supervisor) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.log.Debug().Str("from", string(s.status)).Str("to", string(status)).Msg("Status changed")
	s.status = status
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PairingToken returns the live pairing token, if any.
func (s *Supervisor) PairingToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingToken, s.pairingToken != ""
}

// Info returns a snapshot of the supervisor state.
func (s *Supervisor) Info() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusInfo{
		Status:               s.status,
		HasPairingToken:      s.pairingToken != "",
		ReconnectAttempts:    s.reconnects,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
		ReconnectsExhausted:  s.exhausted,
		ConnectedAt:          s.connectedAt,
	}
}

// reconnectPending reports whether a reconnect is scheduled.
func (s *Supervisor) reconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectTimer != nil
}

// SendText forwards to the session.
func (s *Supervisor) SendText(ctx context.Context, address, text string) (*SentMessage, error) {
	return s.session.SendText(ctx, address, text)
}

// Contact forwards to the session.
func (s *Supervisor) Contact(ctx context.Context, id string) (*payload.Contact, error) {
	return s.session.Contact(ctx, id)
}

// Chat forwards to the session.
func (s *Supervisor) Chat(ctx context.Context, id string) (*payload.Chat, error) {
	return s.session.Chat(ctx, id)
}
