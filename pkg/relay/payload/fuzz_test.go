// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package payload

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzFormat — arbitrary events must never panic, self-originated events are
// never eligible, and every built payload must serialize.
// ---------------------------------------------------------------------------

func FuzzFormat(f *testing.F) {
	f.Add("id", "5491123456789@c.us", "hola", "chat", int64(1700000000), false, false)
	f.Add("", "", "", "", int64(0), true, true)
	f.Add("id", "120363@g.us", "", "image", int64(-1), false, true)
	f.Add("id", string([]byte{0x00}), "\xff", "chat", int64(1<<40), false, false)

	fm := newTestFormatter()
	f.Fuzz(func(t *testing.T, id, from, body, typ string, ts int64, fromMe, hasMedia bool) {
		evt := &Event{ID: id, From: from, Body: body, Type: typ, Timestamp: ts, FromMe: fromMe, HasMedia: hasMedia}
		if fromMe && fm.IsValidInbound(evt) {
			t.Errorf("self-originated event accepted: %+v", evt)
		}
		p := fm.Format(evt, nil, nil)
		if p == nil {
			return
		}
		if _, err := json.Marshal(p); err != nil {
			t.Errorf("Marshal: %v", err)
		}
	})
}
