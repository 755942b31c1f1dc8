// Package events delivers engine lifecycle events to external sinks.
//
// The engine publishes from inside task state transitions, so Publish must
// never block. Delivery runs on a single background goroutine, which keeps
// the per-plan event order intact end to end. When the downstream sink is
// slow the queue grows past its soft bound and the publisher logs a
// backpressure warning; an event is never dropped without a logged record
// of its loss.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

// Sink is one delivery destination for events.
type Sink interface {
	// Deliver sends one event. Returning an error makes the publisher
	// retry with backoff.
	Deliver(ctx context.Context, event engine.Event) error

	// Close releases the sink's resources.
	Close() error
}

// Config tunes the publisher's queue and retry behavior.
type Config struct {
	// QueueSoftLimit is the queue depth above which a backpressure warning
	// is logged. The queue itself is unbounded so Publish never blocks.
	QueueSoftLimit int `yaml:"queue_soft_limit"`

	// RetryBase is the initial delay between delivery attempts.
	RetryBase time.Duration `yaml:"retry_base"`

	// RetryMax caps the delay between delivery attempts.
	RetryMax time.Duration `yaml:"retry_max"`

	// MaxAttempts bounds delivery attempts per event. After the budget is
	// spent the event is abandoned with an error log carrying its payload.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c Config) withDefaults() Config {
	if c.QueueSoftLimit <= 0 {
		c.QueueSoftLimit = 1024
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Publisher implements engine.EventPublisher on top of a Sink.
type Publisher struct {
	cfg  Config
	sink Sink
	log  *telemetry.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []engine.Event
	closed bool
	warned bool

	done chan struct{}
}

// NewPublisher creates a publisher and starts its delivery goroutine.
func NewPublisher(sink Sink, cfg Config, log *telemetry.Logger) *Publisher {
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	p := &Publisher{
		cfg:  cfg.withDefaults(),
		sink: sink,
		log:  log.NewComponentLogger("events"),
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Publish enqueues an event for delivery. It never blocks.
func (p *Publisher) Publish(event engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		// The transition already happened; record the event where an
		// operator can still find it.
		p.log.Errorf("publisher closed, event not delivered: %s", describe(event))
		return
	}

	p.queue = append(p.queue, event)
	if len(p.queue) > p.cfg.QueueSoftLimit && !p.warned {
		p.warned = true
		p.log.Warnf("event queue depth %d exceeds soft limit %d, sink is falling behind",
			len(p.queue), p.cfg.QueueSoftLimit)
	}
	if p.warned && len(p.queue) <= p.cfg.QueueSoftLimit/2 {
		p.warned = false
	}
	p.cond.Signal()
}

// Close stops accepting events and flushes the queue. The context bounds
// how long the flush may take; events still queued when it expires are
// logged as undelivered.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Signal()
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.mu.Lock()
		for _, event := range p.queue {
			p.log.Errorf("shutdown flush timed out, event not delivered: %s", describe(event))
		}
		p.queue = nil
		p.cond.Signal()
		p.mu.Unlock()
		<-p.done
	}

	return p.sink.Close()
}

// run is the single delivery loop. One goroutine preserves event order.
func (p *Publisher) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		event := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.deliver(event)
	}
}

// deliver pushes one event to the sink, retrying with exponential backoff.
// Abandoning an event after the attempt budget always leaves an error log
// carrying the event itself.
func (p *Publisher) deliver(event engine.Event) {
	delay := p.cfg.RetryBase
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.sink.Deliver(context.Background(), event)
		if err == nil {
			return
		}
		if attempt == p.cfg.MaxAttempts {
			p.log.Errorf("delivery failed after %d attempts, event not delivered: %s: %v",
				attempt, describe(event), err)
			return
		}

		p.log.Warnf("event delivery attempt %d failed, retrying in %s: %v", attempt, delay, err)
		time.Sleep(delay)
		delay *= 2
		if delay > p.cfg.RetryMax {
			delay = p.cfg.RetryMax
		}
	}
}

// describe renders an event for loss and backpressure logs.
func describe(event engine.Event) string {
	if event.TaskID != "" {
		return fmt.Sprintf("%s plan=%s task=%s", event.Kind, event.PlanID, event.TaskID)
	}
	return fmt.Sprintf("%s plan=%s", event.Kind, event.PlanID)
}
