// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package outbox buffers outbound publishes and retries them until the
// session can deliver. Ordering is preserved per destination: each
// destination gets one lane drained by one worker, so two messages to the
// same destination reach the broker in submission order.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ErrStopped is returned by Send after Stop.
var ErrStopped = errors.New("outbox stopped")

// DefaultRetryInterval is the wait between delivery attempts while the
// session is not ready.
const DefaultRetryInterval = time.Second

// laneBuffer bounds how many pending payloads a destination lane holds
// before Send blocks.
const laneBuffer = 256

// Publisher delivers a payload to a broker destination. Publish returns an
// error while the underlying session is not connected; the queue retries it.
type Publisher interface {
	Publish(destination string, body []byte) error
	Connected() bool
}

// Options configures a Queue.
type Options struct {
	// RetryInterval overrides DefaultRetryInterval when positive.
	RetryInterval time.Duration
}

// Queue is the outbound delivery queue. Send never blocks on the broker:
// payloads are accepted immediately and delivered by per-destination
// workers, retrying at a fixed interval until the publisher accepts them.
type Queue struct {
	pub      Publisher
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[string]chan []byte
	closed bool
}

// New creates a queue delivering through pub.
func New(pub Publisher, opts Options) *Queue {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		pub:      pub,
		interval: opts.RetryInterval,
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[string]chan []byte),
	}
}

// Send marshals payload and enqueues it for destination. It returns once the
// payload is accepted into the lane; delivery happens asynchronously and
// survives disconnected spells. Returns ErrStopped after Stop, or a
// serialization error for an unmarshalable payload.
func (q *Queue) Send(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("SERIALIZATION_ERROR").
			With("destination", destination).
			Wrapf(err, "failed to marshal payload")
	}

	lane, err := q.lane(destination)
	if err != nil {
		return err
	}

	select {
	case lane <- body:
		EnqueuedTotal.WithLabelValues(destination).Inc()
		return nil
	case <-q.ctx.Done():
		return ErrStopped
	}
}

// lane returns the channel for destination, starting its worker on first use.
func (q *Queue) lane(destination string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrStopped
	}
	lane, ok := q.lanes[destination]
	if !ok {
		lane = make(chan []byte, laneBuffer)
		q.lanes[destination] = lane
		q.wg.Add(1)
		go q.worker(destination, lane)
	}
	return lane, nil
}

// worker drains one destination lane in FIFO order.
func (q *Queue) worker(destination string, lane chan []byte) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case body := <-lane:
			q.deliver(destination, body)
		}
	}
}

// deliver publishes one payload, retrying at a fixed interval until the
// publisher accepts it or the queue stops. A payload still undelivered at
// Stop is dropped, not handed to a later session.
func (q *Queue) deliver(destination string, body []byte) {
	attempt := 0
	err := retry.Do(q.ctx, retry.NewConstant(q.interval), func(ctx context.Context) error {
		attempt++
		if err := q.pub.Publish(destination, body); err != nil {
			RetriesTotal.WithLabelValues(destination).Inc()
			slog.Debug("delivery attempt failed, will retry",
				"destination", destination,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		DroppedTotal.WithLabelValues(destination).Inc()
		slog.Warn("dropping undelivered payload",
			"destination", destination,
			"attempts", attempt,
			"error", err,
		)
		return
	}
	PublishedTotal.WithLabelValues(destination).Inc()
	if attempt > 1 {
		slog.Info("delivered after retries",
			"destination", destination,
			"attempts", attempt,
		)
	}
}

// Stop halts delivery and releases the workers. Pending payloads are
// discarded. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
