// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package phone

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzNormalize — normalization must be idempotent and never panic.
// ---------------------------------------------------------------------------

func FuzzNormalize(f *testing.F) {
	f.Add("5491123456789")
	f.Add("91134083140")
	f.Add("+54 9 11 2345-6789")
	f.Add("23456789")
	f.Add("")
	f.Add("not-a-number")
	f.Add("5491123456789@c.us")
	f.Add(string([]byte{0x00}))

	n := MustNew("54", "9")
	f.Fuzz(func(t *testing.T, raw string) {
		once := n.Normalize(raw)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("not idempotent: Normalize(%q) = %q, Normalize(%q) = %q", raw, once, once, twice)
		}
		if Digits(once) != once {
			t.Errorf("Normalize(%q) = %q contains non-digits", raw, once)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzNetworkRoundTrip — valid numbers survive a trip through the network
// address form.
// ---------------------------------------------------------------------------

func FuzzNetworkRoundTrip(f *testing.F) {
	f.Add("5491123456789")
	f.Add("1123456789")
	f.Add("91134083140")
	f.Add("12")

	n := MustNew("54", "9")
	f.Fuzz(func(t *testing.T, raw string) {
		if strings.HasSuffix(raw, GroupSuffix) || !n.IsValid(raw) {
			return
		}
		canonical := n.Normalize(raw)
		addr := n.ToNetworkForm(canonical)
		if Kind(addr) != ChatPrivate {
			t.Errorf("ToNetworkForm(%q) = %q is not a private address", canonical, addr)
		}
		if !strings.HasPrefix(addr, n.CountryCode()) {
			t.Errorf("ToNetworkForm(%q) = %q lacks the country prefix", canonical, addr)
		}
		if got := n.FromNetworkForm(addr); got != canonical {
			t.Errorf("round trip: got %q, want %q", got, canonical)
		}
	})
}
