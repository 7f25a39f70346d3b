// Copyright 2024-2026 Aiku AI

package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// ErrDispatcherClosed is returned by Go after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// State is where a payload's delivery ended.
type State string

const (
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
	StateAbandoned State = "abandoned"
)

// Attempt records one delivery attempt.
type Attempt struct {
	Number     int
	StatusCode int
	Err        error
	// Delay is the wait before this attempt; zero for the first one.
	Delay time.Duration
}

// Result summarizes the delivery of one payload.
type Result struct {
	DeliveryID string
	State      State
	Attempts   []Attempt
}

// Deliverer performs a single attempt. *Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, req Request) (int, error)
}

// DispatcherConfig tunes retry behaviour.
type DispatcherConfig struct {
	URL         string
	MaxAttempts int
	// BaseDelay is multiplied by the number of the failed attempt.
	BaseDelay time.Duration
}

// Dispatcher delivers payloads with bounded retries. Each payload has its
// own sequential retry timeline; distinct payloads run concurrently.
type Dispatcher struct {
	cfg       DispatcherConfig
	deliverer Deliverer
	log       zerolog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	abandon context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewDispatcher returns a Dispatcher posting to cfg.URL through deliverer.
func NewDispatcher(cfg DispatcherConfig, deliverer Deliverer, log zerolog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		deliverer: deliverer,
		log:       log.With().Str("component", "dispatcher").Logger(),
		sleep:     sleepContext,
		baseCtx:   ctx,
		abandon:   cancel,
	}
}

// URL returns the relay target.
func (d *Dispatcher) URL() string {
	return d.cfg.URL
}

// Go starts delivering body in the background. The returned channel
// receives the result once the retry sequence ends; it may be ignored.
func (d *Dispatcher) Go(body any) (<-chan Result, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	d.inFlight.Add(1)
	d.mu.Unlock()

	done := make(chan Result, 1)
	go func() {
		defer d.inFlight.Done()
		done <- d.Dispatch(d.baseCtx, body)
	}()
	return done, nil
}

// Dispatch delivers body synchronously, retrying transient failures until
// it succeeds or MaxAttempts attempts have been made. The delay before
// attempt n+1 is BaseDelay*n. Cancelling ctx abandons the sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, body any) Result {
	res := Result{DeliveryID: uuid.NewString()}
	log := d.log.With().Str("delivery_id", res.DeliveryID).Logger()

	var delay time.Duration
	for n := 1; n <= d.cfg.MaxAttempts; n++ {
		if delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				res.State = StateAbandoned
				log.Warn().Err(err).Int("attempts", len(res.Attempts)).Msg("Abandoned delivery")
				return res
			}
		}

		status, err := d.deliverer.Deliver(ctx, Request{
			URL:        d.cfg.URL,
			DeliveryID: res.DeliveryID,
			Attempt:    n,
			Body:       body,
		})
		res.Attempts = append(res.Attempts, Attempt{Number: n, StatusCode: status, Err: err, Delay: delay})
		if err == nil {
			res.State = StateSucceeded
			log.Debug().Int("attempt", n).Int("status", status).Msg("Delivered payload")
			return res
		}
		if !errors.Is(err, ErrTransient) {
			res.State = StateExhausted
			log.Error().Err(err).Int("attempt", n).Msg("Dropping undeliverable payload")
			return res
		}
		if ctx.Err() != nil {
			res.State = StateAbandoned
			log.Warn().Err(err).Int("attempts", n).Msg("Abandoned delivery")
			return res
		}

		delay = d.cfg.BaseDelay * time.Duration(n)
		log.Warn().Err(err).
			Int("attempt", n).
			Int("max_attempts", d.cfg.MaxAttempts).
			Msg("Delivery attempt failed")
	}

	res.State = StateExhausted
	log.Error().
		Int("attempts", len(res.Attempts)).
		Str("url", d.cfg.URL).
		Msg("Delivery attempts exhausted, dropping payload")
	return res
}

// Shutdown stops accepting payloads and waits for in-flight deliveries.
// When ctx expires first the remaining deliveries are abandoned and
// ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.abandon()
		return nil
	case <-ctx.Done():
		d.abandon()
		d.log.Warn().Msg("Shutdown grace period elapsed, abandoning in-flight deliveries")
		return ctx.Err()
	}
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
