// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"time"

	"github.com/aiku/chatrelay/pkg/relay/payload"
)

// SessionEventType names a lifecycle or message event emitted by a session.
type SessionEventType string

const (
	EventPairingToken  SessionEventType = "pairing-token"
	EventAuthenticated SessionEventType = "authenticated"
	EventAuthFailure   SessionEventType = "auth-failure"
	EventReady         SessionEventType = "ready"
	EventMessage       SessionEventType = "message"
	EventDisconnected  SessionEventType = "disconnected"
)

// SessionEvent is delivered to the handler registered on a Session.
type SessionEvent struct {
	Type SessionEventType
	// PairingToken is set for EventPairingToken.
	PairingToken string
	// Message is set for EventMessage.
	Message *payload.Event
	// Reason is set for EventDisconnected and EventAuthFailure.
	Reason string
}

// SentMessage is what a session returns for a successful send.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Session is the capability the relay consumes from the messaging client.
// Implementations must tolerate concurrent calls; the relay does not
// serialize access.
type Session interface {
	// SetEventHandler registers the single event handler. It is called
	// before Connect.
	SetEventHandler(func(SessionEvent))
	// Connect establishes the session. Readiness is reported through
	// events, not through the return value.
	Connect(ctx context.Context) error
	Contact(ctx context.Context, id string) (*payload.Contact, error)
	Chat(ctx context.Context, id string) (*payload.Chat, error)
	SendText(ctx context.Context, address, text string) (*SentMessage, error)
	// Destroy tears the session down. It must be safe to call on a
	// session that never connected.
	Destroy(ctx context.Context) error
}
