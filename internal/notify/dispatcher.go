// Package notify delivers post-commit notifications on background workers.
// Nothing here reports back to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/safar/storefront/internal/config"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

type event struct {
	kind    Kind
	payload any
}

type Dispatcher struct {
	mailer Mailer
	logger *zap.Logger
	from   string
	admin  string

	queue   chan event
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(mailer Mailer, logger *zap.Logger, cfg config.NotifyConfig) *Dispatcher {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Dispatcher{
		mailer:  mailer,
		logger:  logger.Named("notify"),
		from:    cfg.From,
		admin:   cfg.AdminEmail,
		queue:   make(chan event, size),
		workers: workers,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Notify queues a notification without blocking. When the queue is full or
// the dispatcher is closed the notification is dropped and logged.
func (d *Dispatcher) Notify(kind Kind, payload any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped: dispatcher closed", zap.String("kind", string(kind)))
		return
	}

	select {
	case d.queue <- event{kind: kind, payload: payload}:
	default:
		d.logger.Warn("notification dropped: queue full", zap.String("kind", string(kind)))
	}
}

// Close stops accepting notifications and waits for the queue to drain or
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification panicked", zap.String("kind", string(ev.kind)), zap.Any("panic", r))
		}
	}()

	msg, err := compose(ev.kind, ev.payload, d.from, d.admin)
	if err != nil {
		d.logger.Error("compose notification", zap.String("kind", string(ev.kind)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.mailer.Send(ctx, msg); err != nil {
		d.logger.Error("send notification",
			zap.String("kind", string(ev.kind)),
			zap.String("to", msg.To),
			zap.Error(err),
		)
	}
}
