// Copyright 2024-2026 Aiku AI

package payload_test

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/chatrelay/pkg/relay/payload"
	"github.com/aiku/chatrelay/pkg/relay/phone"
)

func ExampleFormatter_Format() {
	f := payload.NewFormatter(phone.MustNew("54", "9"), 4096, zerolog.Nop())
	evt := &payload.Event{
		ID:        "ABCD1234",
		From:      "91123456789@c.us",
		To:        "5491100000000@c.us",
		Body:      "hola",
		Type:      "chat",
		Timestamp: 1700000000,
	}
	if !f.IsValidInbound(evt) {
		return
	}
	p := f.Format(evt, &payload.Contact{PushName: "Ana"}, nil)
	fmt.Println(p.FromNumber, p.Contact.Name, p.Chat.Name)
	fmt.Println(p.Timestamp.UnixMilli())
	// Output:
	// 5491123456789 Ana Unknown
	// 1700000000000
}
