// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var (
	// ErrNotConnected means the session is not ready; callers may retry later.
	ErrNotConnected = errors.New("session is not connected")
	// ErrInvalidRecipient means the recipient failed phone number validation.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrMessageTooLong means the text exceeds the configured maximum.
	ErrMessageTooLong = errors.New("message too long")
	// ErrEmptyMessage means the text is empty.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoRecipients means a bulk send was given no numbers.
	ErrNoRecipients = errors.New("no recipients")
	// ErrSendFailed wraps errors returned by the session while sending.
	ErrSendFailed = errors.New("send failed")
	// ErrAlreadyStarted is returned by Start when the supervisor is running.
	ErrAlreadyStarted = errors.New("supervisor already started")
	// ErrShutDown is returned after Shutdown.
	ErrShutDown = errors.New("supervisor is shut down")
)
