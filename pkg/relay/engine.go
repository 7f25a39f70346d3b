// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aiku/chatrelay/pkg/relay/delivery"
	"github.com/aiku/chatrelay/pkg/relay/payload"
	"github.com/aiku/chatrelay/pkg/relay/phone"
)

// Receipt confirms an outbound message was accepted by the session.
type Receipt struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkFailure is one recipient that could not be sent to.
type BulkFailure struct {
	Number string `json:"number"`
	Error  string `json:"error"`
}

// BulkReport aggregates a SendBulk call.
type BulkReport struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []Receipt     `json:"results"`
	Failures  []BulkFailure `json:"failures"`
}

// Engine relays inbound session messages to the relay target and exposes
// the outbound send API.
type Engine struct {
	cfg        *Config
	log        zerolog.Logger
	phone      *phone.Normalizer
	formatter  *payload.Formatter
	dispatcher *delivery.Dispatcher
	supervisor *Supervisor

	// sleep paces bulk sends; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.Mutex
	closing  bool
	enriched sync.WaitGroup
}

// NewEngine builds an engine around session. cfg must have been
// post-processed.
func NewEngine(cfg *Config, session Session, log zerolog.Logger) (*Engine, error) {
	normalizer, err := phone.New(cfg.Phone.CountryCode, cfg.Phone.MobileMarker)
	if err != nil {
		return nil, fmt.Errorf("invalid phone config: %w", err)
	}
	log = log.With().Str("component", "engine").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		log:       log,
		phone:     normalizer,
		formatter: payload.NewFormatter(normalizer, cfg.Messages.MaxLength, log),
		sleep:     sleepContext,
		runCtx:    ctx,
		cancelRun: cancel,
	}
	if cfg.Relay.URL != "" {
		e.dispatcher = delivery.NewDispatcher(delivery.DispatcherConfig{
			URL:         cfg.Relay.URL,
			MaxAttempts: cfg.Relay.MaxAttempts,
			BaseDelay:   cfg.Relay.RetryBaseDelay(),
		}, delivery.NewClient(cfg.Relay.Timeout()), log)
	} else {
		log.Warn().Msg("No relay URL configured, inbound messages will not be relayed")
	}
	e.supervisor = NewSupervisor(SupervisorConfig{
		ReconnectInterval:    cfg.Session.ReconnectInterval(),
		MaxReconnectAttempts: cfg.Session.ReconnectMaxAttempts,
	}, session, e.handleMessage, log)
	return e, nil
}

// Start connects the session. Pairing and readiness are reported through
// Status; Start only fails when the first connect attempt does.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.supervisor.Start()
}

// Shutdown stops the session, then gives in-flight relays until ctx
// expires to finish before abandoning them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	var errs []error
	if err := e.supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		e.enriched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	e.cancelRun()

	if e.dispatcher != nil {
		if err := e.dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("in-flight deliveries abandoned: %w", err))
		}
	}
	return errors.Join(errs...)
}

// handleMessage is the inbound path. It returns immediately; enrichment and
// delivery run in the background.
func (e *Engine) handleMessage(evt *payload.Event) {
	if evt == nil {
		return
	}
	if !e.formatter.IsValidInbound(evt) {
		e.log.Debug().Str("message_id", evt.ID).Msg("Dropping ineligible inbound message")
		return
	}
	if e.dispatcher == nil {
		e.log.Debug().Str("message_id", evt.ID).Msg("Relay disabled, dropping inbound message")
		return
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		e.log.Warn().Str("message_id", evt.ID).Msg("Shutting down, dropping inbound message")
		return
	}
	e.enriched.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.enriched.Done()
		e.relay(evt)
	}()
}

func (e *Engine) relay(evt *payload.Event) {
	log := e.log.With().Str("message_id", evt.ID).Str("from", evt.From).Logger()

	contact, chat := e.enrich(evt)
	p := e.formatter.Format(evt, contact, chat)
	if p == nil {
		log.Error().Msg("Dropping inbound message that could not be formatted")
		return
	}
	if _, err := e.dispatcher.Go(p); err != nil {
		log.Warn().Err(err).Msg("Dropping inbound message")
		return
	}
	log.Debug().Msg("Queued inbound message for relay")
}

// enrich looks up the sender and chat. Failures fall back to nil, which the
// formatter renders as sentinel defaults.
func (e *Engine) enrich(evt *payload.Event) (*payload.Contact, *payload.Chat) {
	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.Session.LookupTimeout())
	defer cancel()

	contact, err := e.supervisor.Contact(ctx, evt.From)
	if err != nil {
		e.log.Warn().Err(err).Str("message_id", evt.ID).Msg("Contact lookup failed")
		contact = nil
	}
	chat, err := e.supervisor.Chat(ctx, evt.From)
	if err != nil {
		e.log.Warn().Err(err).Str("message_id", evt.ID).Msg("Chat lookup failed")
		chat = nil
	}
	return contact, chat
}

// SendMessage sends text to a single recipient. The returned error wraps
// ErrNotConnected, ErrInvalidRecipient, ErrEmptyMessage, ErrMessageTooLong
// or ErrSendFailed. Failed sends are not retried.
func (e *Engine) SendMessage(ctx context.Context, to, text string) (*Receipt, error) {
	if e.supervisor.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	canonical, err := e.phone.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
	}
	if err := e.checkText(text); err != nil {
		return nil, err
	}
	return e.send(ctx, canonical, text)
}

func (e *Engine) send(ctx context.Context, canonical, text string) (*Receipt, error) {
	sent, err := e.supervisor.SendText(ctx, e.phone.ToNetworkForm(canonical), text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	receipt := &Receipt{To: canonical, Timestamp: time.Now()}
	if sent != nil {
		receipt.MessageID = sent.ID
		if !sent.Timestamp.IsZero() {
			receipt.Timestamp = sent.Timestamp
		}
	}
	e.log.Info().Str("to", canonical).Str("message_id", receipt.MessageID).Msg("Sent message")
	return receipt, nil
}

func (e *Engine) checkText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if limit := e.cfg.Messages.MaxLength; limit > 0 && utf8.RuneCountInString(text) > limit {
		return fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, limit)
	}
	return nil
}

// SendBulk sends text to each number in order, one at a time, waiting
// pacing between consecutive sends. A negative pacing selects the
// configured default. Per-recipient failures are collected in the report;
// an error is returned only when the request as a whole is unusable.
func (e *Engine) SendBulk(ctx context.Context, numbers []string, text string, pacing time.Duration) (*BulkReport, error) {
	if len(numbers) == 0 {
		return nil, ErrNoRecipients
	}
	if err := e.checkText(text); err != nil {
		return nil, err
	}
	if pacing < 0 {
		pacing = e.cfg.Messages.BulkDelay()
	}

	report := &BulkReport{
		Total:    len(numbers),
		Results:  []Receipt{},
		Failures: []BulkFailure{},
	}
	fail := func(number string, err error) {
		report.Failures = append(report.Failures, BulkFailure{Number: number, Error: err.Error()})
	}

	attempted := 0
	for _, number := range numbers {
		canonical, err := e.phone.Parse(number)
		if err != nil {
			fail(number, fmt.Errorf("%w: %w", ErrInvalidRecipient, err))
			continue
		}
		if attempted > 0 && pacing > 0 {
			if err := e.sleep(ctx, pacing); err != nil {
				fail(number, err)
				continue
			}
		} else if err := ctx.Err(); err != nil {
			fail(number, err)
			continue
		}
		attempted++

		if e.supervisor.Status() != StatusConnected {
			fail(number, ErrNotConnected)
			continue
		}
		receipt, err := e.send(ctx, canonical, text)
		if err != nil {
			e.log.Warn().Err(err).Str("to", canonical).Msg("Bulk send failed for recipient")
			fail(number, err)
			continue
		}
		report.Results = append(report.Results, *receipt)
	}

	report.Succeeded = len(report.Results)
	report.Failed = len(report.Failures)
	e.log.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("Bulk send complete")
	return report, nil
}

// Status returns the session status.
func (e *Engine) Status() Status {
	return e.supervisor.Status()
}

// Info returns a status snapshot.
func (e *Engine) Info() StatusInfo {
	return e.supervisor.Info()
}

// PairingToken returns the live pairing token, if any.
func (e *Engine) PairingToken() (string, bool) {
	return e.supervisor.PairingToken()
}

// RegeneratePairing restarts the session to obtain a fresh pairing token.
func (e *Engine) RegeneratePairing(ctx context.Context) error {
	return e.supervisor.RegeneratePairing(ctx)
}

func (e *Engine) IsValid(number string) bool {
	return e.phone.IsValid(number)
}

func (e *Engine) Normalize(number string) string {
	return e.phone.Normalize(number)
}

func (e *Engine) ToNetworkForm(number string) string {
	return e.phone.ToNetworkForm(number)
}

func (e *Engine) FromNetworkForm(address string) string {
	return e.phone.FromNetworkForm(address)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
