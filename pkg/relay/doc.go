// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay connects a consumer messaging session to an HTTP webhook
// target.
//
// Inbound messages from the session are filtered, enriched with contact
// and chat metadata, formatted into a flat JSON payload and POSTed to the
// relay target with bounded retries. Outbound text is validated against
// the regional phone numbering rules and sent through the same session.
//
// # Core Types
//
// [Engine] composes the pieces and is the only type most callers need. It
// exposes SendMessage, SendBulk and the phone helpers, and runs the inbound
// path in the background.
//
// [Supervisor] owns the [Session] handle. It tracks the connection status,
// holds the pairing token while the operator pairs the device and
// reconnects after disconnects up to a configured bound.
//
// [API] serves the admin HTTP endpoints (status, pairing, sending and
// number validation).
//
// # Sub-packages
//
//   - phone normalizes numbers and converts them to network addresses.
//   - payload defines the inbound event and relay payload shapes.
//   - delivery POSTs payloads to the relay target with retries.
//   - wsclient implements [Session] over a WebSocket sidecar.
package relay
