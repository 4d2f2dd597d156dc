package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue has no free slot.
	ErrQueueFull = errors.New("audit queue full")
	// ErrDispatcherClosed is returned by Enqueue after Close.
	ErrDispatcherClosed = errors.New("audit dispatcher closed")
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// DefaultDispatcherConfig returns the defaults used when no config is given.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:    1024,
		Workers:      2,
		WriteTimeout: 2 * time.Second,
	}
}

// Dispatcher hands records to a Sink from a bounded queue drained by a
// fixed worker pool. Enqueueing never blocks; records that do not fit are
// dropped and counted.
type Dispatcher struct {
	sink   Sink
	config DispatcherConfig
	queue  chan Record
	logger *logger.ComponentLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers.
func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	d := &Dispatcher{
		sink:   sink,
		config: cfg,
		queue:  make(chan Record, cfg.QueueSize),
		logger: logger.Get().WithComponent("audit"),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue queues rec for delivery without blocking.
func (d *Dispatcher) Enqueue(rec Record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.RecordAuditRecord("dropped")
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- rec:
		metrics.SetAuditQueueDepth(len(d.queue))
		return nil
	default:
		metrics.RecordAuditRecord("dropped")
		return ErrQueueFull
	}
}

// Submit is Enqueue reporting only whether the record was accepted.
func (d *Dispatcher) Submit(rec Record) bool {
	err := d.Enqueue(rec)
	if err != nil {
		d.logger.Warn("audit record dropped", logger.Fields{
			"audit_id": rec.ID,
			"route":    rec.Route,
			"reason":   err.Error(),
		})
	}
	return err == nil
}

// Len returns the number of queued records.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int {
	return cap(d.queue)
}

// Close stops accepting records and waits until the queue is drained or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
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

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for rec := range d.queue {
		metrics.SetAuditQueueDepth(len(d.queue))
		d.write(rec)
	}
}

func (d *Dispatcher) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.WriteTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, rec); err != nil {
		metrics.RecordAuditRecord("failed")
		d.logger.Error("failed to write audit record", logger.Fields{
			"audit_id": rec.ID,
			"route":    rec.Route,
			"error":    err.Error(),
		})
		return
	}

	metrics.RecordAuditRecord("written")
}
