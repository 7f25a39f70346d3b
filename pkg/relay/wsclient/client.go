// Copyright 2024-2026 Aiku AI

// Package wsclient implements the relay session over a WebSocket sidecar
// that drives the messaging network's web client.
//
// The sidecar speaks JSON text frames. Requests carry a uuid that the
// matching response echoes back; events are pushed unsolicited.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/chatrelay/pkg/relay"
	"github.com/aiku/chatrelay/pkg/relay/payload"
)

const (
	MethodInitialize  = "initialize"
	MethodGetContact  = "getContactById"
	MethodGetChat     = "getChatById"
	MethodSendMessage = "sendMessage"
	MethodDestroy     = "destroy"

	FrameRequest  = "request"
	FrameResponse = "response"
	FrameEvent    = "event"
)

const (
	handshakeTimeout = 10 * time.Second
	destroyWait      = 2 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

var (
	// ErrNotConnected is returned by requests made without a live socket.
	ErrNotConnected = errors.New("sidecar is not connected")
	// ErrConnectionClosed fails requests still pending when the socket closes.
	ErrConnectionClosed = errors.New("sidecar connection closed")
	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("sidecar already connected")
)

// RemoteError is an error reported by the sidecar in a response frame.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("sidecar %s failed: %s", e.Method, e.Message)
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	result gjson.Result
	err    error
}

// conn is one socket lifetime. A new one is created by every Connect.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan response

	// closing is set before an intentional close so the read loop does not
	// report it as a disconnect.
	closing atomic.Bool
	done    chan struct{}
}

// Client is a relay.Session backed by a sidecar WebSocket.
type Client struct {
	url    string
	header http.Header
	log    zerolog.Logger
	dialer websocket.Dialer

	handlerMu sync.RWMutex
	handler   func(relay.SessionEvent)

	mu   sync.Mutex
	conn *conn
}

var _ relay.Session = (*Client)(nil)

// New returns a client for the sidecar at url. header is sent with the
// handshake and may be nil.
func New(url string, header http.Header, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		header: header,
		log:    log.With().Str("component", "wsclient").Logger(),
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (c *Client) SetEventHandler(handler func(relay.SessionEvent)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func (c *Client) emit(evt relay.SessionEvent) {
	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(evt)
	}
}

// Connect dials the sidecar and asks it to initialize the web client.
// Pairing and readiness arrive later as events.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	cn := &conn{
		ws:      ws,
		pending: make(map[string]chan response),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrAlreadyConnected
	}
	c.conn = cn
	c.mu.Unlock()

	go c.readLoop(cn)
	go c.pingLoop(cn)
	c.log.Info().Str("url", c.url).Msg("Connected to sidecar")

	if _, err := c.call(ctx, cn, MethodInitialize, nil); err != nil {
		c.drop(cn)
		c.close(cn)
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	return nil
}

func (c *Client) readLoop(cn *conn) {
	defer close(cn.done)

	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := cn.ws.ReadMessage()
		if err != nil {
			cn.failPending(ErrConnectionClosed)
			if cn.closing.Load() {
				return
			}
			c.drop(cn)
			_ = cn.ws.Close()
			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "sidecar closed the connection"
			}
			c.log.Warn().Err(err).Msg("Sidecar connection lost")
			c.emit(relay.SessionEvent{Type: relay.EventDisconnected, Reason: reason})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleFrame(cn, data)
	}
}

func (c *Client) pingLoop(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-cn.done:
			return
		case <-ticker.C:
			cn.writeMu.Lock()
			err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			cn.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("Failed to ping sidecar")
				return
			}
		}
	}
}

func (c *Client) handleFrame(cn *conn, data []byte) {
	if !gjson.ValidBytes(data) {
		c.log.Warn().Int("length", len(data)).Msg("Ignoring malformed sidecar frame")
		return
	}
	frame := gjson.ParseBytes(data)
	switch frame.Get("type").String() {
	case FrameResponse:
		cn.resolve(frame)
	case FrameEvent:
		c.handleEvent(frame.Get("event").String(), frame.Get("data"))
	default:
		c.log.Trace().Str("frame_type", frame.Get("type").String()).Msg("Ignoring unknown sidecar frame")
	}
}

// textField reads key from an object, or the value itself when the sidecar
// sent a bare string.
func textField(data gjson.Result, key string) string {
	if data.Type == gjson.String {
		return data.String()
	}
	return data.Get(key).String()
}

func (c *Client) handleEvent(name string, data gjson.Result) {
	switch name {
	case "qr":
		c.emit(relay.SessionEvent{Type: relay.EventPairingToken, PairingToken: textField(data, "qr")})
	case "authenticated":
		c.emit(relay.SessionEvent{Type: relay.EventAuthenticated})
	case "auth_failure":
		c.emit(relay.SessionEvent{Type: relay.EventAuthFailure, Reason: textField(data, "message")})
	case "ready":
		c.emit(relay.SessionEvent{Type: relay.EventReady})
	case "message":
		var evt payload.Event
		if err := json.Unmarshal([]byte(data.Raw), &evt); err != nil {
			c.log.Warn().Err(err).Msg("Ignoring undecodable message event")
			return
		}
		c.emit(relay.SessionEvent{Type: relay.EventMessage, Message: &evt})
	case "disconnected":
		c.emit(relay.SessionEvent{Type: relay.EventDisconnected, Reason: textField(data, "reason")})
	default:
		c.log.Debug().Str("event", name).Msg("Ignoring unknown sidecar event")
	}
}

func (cn *conn) resolve(frame gjson.Result) {
	id := frame.Get("id").String()
	cn.pendingMu.Lock()
	ch, ok := cn.pending[id]
	delete(cn.pending, id)
	cn.pendingMu.Unlock()
	if !ok {
		return
	}

	var res response
	if errVal := frame.Get("error"); errVal.Exists() && errVal.Type != gjson.Null {
		res.err = errors.New(textField(errVal, "message"))
	} else {
		res.result = frame.Get("result")
	}
	ch <- res
}

func (cn *conn) failPending(err error) {
	cn.pendingMu.Lock()
	defer cn.pendingMu.Unlock()
	for id, ch := range cn.pending {
		ch <- response{err: err}
		delete(cn.pending, id)
	}
}

func (cn *conn) writeJSON(v any) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteJSON(v)
}

func (c *Client) current() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// drop forgets cn if it is still the current connection.
func (c *Client) drop(cn *conn) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) close(cn *conn) {
	cn.closing.Store(true)
	cn.writeMu.Lock()
	_ = cn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	cn.writeMu.Unlock()
	_ = cn.ws.Close()
}

func (c *Client) call(ctx context.Context, cn *conn, method string, params any) (gjson.Result, error) {
	id := uuid.NewString()
	ch := make(chan response, 1)
	cn.pendingMu.Lock()
	cn.pending[id] = ch
	cn.pendingMu.Unlock()

	if err := cn.writeJSON(request{Type: FrameRequest, ID: id, Method: method, Params: params}); err != nil {
		cn.pendingMu.Lock()
		delete(cn.pending, id)
		cn.pendingMu.Unlock()
		return gjson.Result{}, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, ErrConnectionClosed) {
				return gjson.Result{}, res.err
			}
			return gjson.Result{}, &RemoteError{Method: method, Message: res.err.Error()}
		}
		return res.result, nil
	case <-ctx.Done():
		cn.pendingMu.Lock()
		delete(cn.pending, id)
		cn.pendingMu.Unlock()
		return gjson.Result{}, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Client) request(ctx context.Context, method string, params any) (gjson.Result, error) {
	cn, err := c.current()
	if err != nil {
		return gjson.Result{}, err
	}
	return c.call(ctx, cn, method, params)
}

func (c *Client) Contact(ctx context.Context, id string) (*payload.Contact, error) {
	result, err := c.request(ctx, MethodGetContact, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	var contact payload.Contact
	if err := json.Unmarshal([]byte(result.Raw), &contact); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %w", err)
	}
	return &contact, nil
}

func (c *Client) Chat(ctx context.Context, id string) (*payload.Chat, error) {
	result, err := c.request(ctx, MethodGetChat, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	var chat payload.Chat
	if err := json.Unmarshal([]byte(result.Raw), &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	return &chat, nil
}

// SendText sends text to a network address. The sidecar reports the
// message id and a timestamp in seconds.
func (c *Client) SendText(ctx context.Context, address, text string) (*relay.SentMessage, error) {
	result, err := c.request(ctx, MethodSendMessage, map[string]string{
		"chatId":  address,
		"content": text,
	})
	if err != nil {
		return nil, err
	}
	sent := &relay.SentMessage{ID: result.Get("id").String()}
	if ts := result.Get("timestamp").Int(); ts > 0 {
		sent.Timestamp = time.Unix(ts, 0)
	}
	return sent, nil
}

// Destroy asks the sidecar to tear down the web client and closes the
// socket. The close is not reported as a disconnect event.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn == nil {
		return nil
	}
	cn.closing.Store(true)

	waitCtx, cancel := context.WithTimeout(ctx, destroyWait)
	defer cancel()
	if _, err := c.call(waitCtx, cn, MethodDestroy, nil); err != nil {
		c.log.Debug().Err(err).Msg("Sidecar did not acknowledge destroy")
	}
	c.close(cn)

	select {
	case <-cn.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info().Msg("Sidecar session destroyed")
	return nil
}
