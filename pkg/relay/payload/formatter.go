// Copyright 2024-2026 Aiku AI

package payload

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/chatrelay/pkg/relay/phone"
)

// Formatter validates inbound events and builds relay payloads.
type Formatter struct {
	phone         *phone.Normalizer
	maxBodyLength int
	log           zerolog.Logger
}

// NewFormatter returns a Formatter. A maxBodyLength of 0 disables the
// body length check.
func NewFormatter(normalizer *phone.Normalizer, maxBodyLength int, log zerolog.Logger) *Formatter {
	return &Formatter{
		phone:         normalizer,
		maxBodyLength: maxBodyLength,
		log:           log.With().Str("component", "formatter").Logger(),
	}
}

// IsValidInbound reports whether evt should be relayed at all. Events from
// ourselves, events without a sender, empty events and oversized bodies
// are dropped.
func (f *Formatter) IsValidInbound(evt *Event) bool {
	if evt == nil || evt.From == "" || evt.FromMe {
		return false
	}
	if evt.Body == "" && !evt.HasMedia {
		return false
	}
	if f.maxBodyLength > 0 && utf8.RuneCountInString(evt.Body) > f.maxBodyLength {
		return false
	}
	return true
}

// Format builds the payload for evt. contact and chat may be nil. It returns
// nil when the payload cannot be built; the caller should drop the event.
func (f *Formatter) Format(evt *Event, contact *Contact, chat *Chat) (p *Payload) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Any("panic", r).Msg("Recovered while formatting payload")
			p = nil
		}
	}()

	if err := checkEvent(evt); err != nil {
		f.log.Error().Err(err).Msg("Failed to format payload")
		return nil
	}

	fromNumber := f.phone.FromNetworkForm(evt.From)
	isGroup := evt.IsGroup || phone.Kind(evt.From) == phone.ChatGroup

	p = &Payload{
		MessageID:  evt.ID,
		From:       evt.From,
		FromNumber: fromNumber,
		To:         evt.To,
		Body:       evt.Body,
		Type:       evt.Type,
		Timestamp:  jsontime.UM(time.Unix(evt.Timestamp, 0)),
		IsGroup:    isGroup,
		Contact: ContactBlock{
			Name:   UnknownName,
			Number: fromNumber,
		},
		Chat: ChatBlock{
			Name:    UnknownName,
			IsGroup: isGroup,
		},
		Metadata: Metadata{
			HasMedia:  evt.HasMedia,
			MediaType: evt.Type,
		},
	}
	if contact != nil {
		if name := contact.DisplayName(); name != "" {
			p.Contact.Name = name
		}
		if contact.Number != "" {
			p.Contact.Number = f.phone.Normalize(contact.Number)
		}
		p.Contact.IsMyContact = contact.IsMyContact
	}
	if chat != nil {
		if chat.Name != "" {
			p.Chat.Name = chat.Name
		}
		p.Chat.IsGroup = chat.IsGroup || isGroup
	}
	if evt.Quoted != nil {
		q := *evt.Quoted
		p.Metadata.QuotedMessage = &q
	}
	if evt.HasMedia && evt.Media != nil {
		m := *evt.Media
		p.Media = &m
	}
	return p
}

func checkEvent(evt *Event) error {
	switch {
	case evt == nil:
		return fmt.Errorf("nil event")
	case evt.ID == "":
		return fmt.Errorf("event from %q has no message id", evt.From)
	case evt.From == "":
		return fmt.Errorf("event %q has no sender", evt.ID)
	}
	return nil
}
