// Copyright 2024-2026 Aiku AI

// Package payload defines inbound session events and the relay payload
// delivered to the relay target, and converts one into the other.
package payload

import (
	"go.mau.fi/util/jsontime"
)

// UnknownName is used when a contact or chat has no display name.
const UnknownName = "Unknown"

// Media describes an attachment on an inbound message.
type Media struct {
	MimeType string `json:"mimetype"`
	Filename string `json:"filename"`
	Size     int64  `json:"filesize"`
}

// Quoted is a reference to the message an inbound message replies to.
type Quoted struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	From string `json:"from"`
}

// Event is one message received by the session. Timestamp is in seconds,
// as the network reports it.
type Event struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Body      string  `json:"body"`
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	FromMe    bool    `json:"fromMe"`
	IsGroup   bool    `json:"isGroup"`
	HasMedia  bool    `json:"hasMedia"`
	Media     *Media  `json:"media,omitempty"`
	Quoted    *Quoted `json:"quotedMsg,omitempty"`
}

// Contact is the enrichment data looked up for the sender.
type Contact struct {
	Name        string `json:"name"`
	PushName    string `json:"pushname"`
	Number      string `json:"number"`
	IsMyContact bool   `json:"isMyContact"`
}

// DisplayName prefers the saved name over the self-chosen push name.
func (c *Contact) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.PushName
}

// Chat is the enrichment data looked up for the conversation.
type Chat struct {
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// ContactBlock is the sender summary inside a Payload.
type ContactBlock struct {
	Name        string `json:"name"`
	Number      string `json:"number"`
	IsMyContact bool   `json:"isMyContact"`
}

// ChatBlock is the conversation summary inside a Payload.
type ChatBlock struct {
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// Metadata carries flags the relay target uses for routing.
type Metadata struct {
	HasMedia      bool    `json:"hasMedia"`
	MediaType     string  `json:"mediaType"`
	QuotedMessage *Quoted `json:"quotedMessage"`
}

// Payload is the JSON document POSTed to the relay target. Field names are
// part of the target's contract.
type Payload struct {
	MessageID  string             `json:"messageId"`
	From       string             `json:"from"`
	FromNumber string             `json:"fromNumber"`
	To         string             `json:"to"`
	Body       string             `json:"body"`
	Type       string             `json:"type"`
	Timestamp  jsontime.UnixMilli `json:"timestamp"`
	IsGroup    bool               `json:"isGroup"`
	Contact    ContactBlock       `json:"contact"`
	Chat       ChatBlock          `json:"chat"`
	Metadata   Metadata           `json:"metadata"`
	Media      *Media             `json:"media,omitempty"`
}
