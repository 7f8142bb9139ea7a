package firehose

import (
	"context"
	"sync"
	"time"

	"hullclient/pkg/config"
	"hullclient/pkg/logger"
	"hullclient/pkg/rest"
)

// FailedBatch is a batch that exhausted its delivery attempts.
type FailedBatch struct {
	URL          string
	Organization string
	Entries      []Entry
	Err          error
	FailedAt     time.Time
}

// Sink keeps failed batches for later inspection or replay.
type Sink interface {
	Record(ctx context.Context, f FailedBatch) error
}

// Batcher queues entries for one destination. It is safe for concurrent use.
type Batcher struct {
	cfg     Config
	inv     *rest.Invoker
	log     logger.Sugared
	sink    Sink
	metrics *Metrics

	mu      sync.Mutex
	queue   []*Pending
	timer   *time.Timer
	gen     uint64 // bumped on every cut; stale timers compare against it
	ready   [][]*Pending
	running bool
	closed  bool
	wg      sync.WaitGroup
}

type BatcherOption func(*Batcher)

func WithInvoker(inv *rest.Invoker) BatcherOption { return func(b *Batcher) { b.inv = inv } }
func WithLogger(l logger.Sugared) BatcherOption   { return func(b *Batcher) { b.log = l } }
func WithSink(s Sink) BatcherOption               { return func(b *Batcher) { b.sink = s } }
func WithMetrics(m *Metrics) BatcherOption        { return func(b *Batcher) { b.metrics = m } }

func NewBatcher(cfg Config, opts ...BatcherOption) *Batcher {
	b := &Batcher{cfg: cfg.withDefaults(), log: logger.Nop()}
	for _, o := range opts {
		o(b)
	}
	if b.inv == nil {
		b.inv = rest.New(rest.WithLogger(b.log))
	}
	if b.metrics == nil {
		b.metrics = DefaultMetrics()
	}
	return b
}

// Config returns the destination this batcher delivers to.
func (b *Batcher) Config() Config { return b.cfg }

// Enqueue appends e to the current batch. The batch is cut immediately once
// it holds FlushAt entries; otherwise a FlushAfter timer is armed.
func (b *Batcher) Enqueue(e Entry) *Pending {
	p := newPending(e)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		p.resolve(ErrClosed)
		return p
	}
	b.queue = append(b.queue, p)
	switch {
	case len(b.queue) >= b.cfg.FlushAt:
		b.cutLocked()
	case b.timer == nil:
		gen := b.gen
		b.timer = time.AfterFunc(b.cfg.FlushAfter, func() { b.expire(gen) })
	}
	return p
}

// Flush cuts the current batch without waiting for the timer.
func (b *Batcher) Flush() {
	b.mu.Lock()
	b.cutLocked()
	b.mu.Unlock()
}

// expire cuts the batch its timer was armed for. A timer that fired after
// that batch was already cut is ignored.
func (b *Batcher) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}
	b.cutLocked()
}

// Len returns the number of entries not yet cut into a batch.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close rejects further entries, cuts the current batch and waits until every
// cut batch has settled or ctx ends.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.cutLocked()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) cutLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) == 0 {
		return
	}
	b.ready = append(b.ready, b.queue)
	b.queue = nil
	if !b.running {
		b.running = true
		b.wg.Add(1)
		go b.run()
	}
}

// run sends cut batches in order until none is left.
func (b *Batcher) run() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(b.ready) == 0 {
			b.running = false
			b.mu.Unlock()
			return
		}
		batch := b.ready[0]
		b.ready[0] = nil
		b.ready = b.ready[1:]
		b.mu.Unlock()

		err := b.send(batch)
		for _, p := range batch {
			p.resolve(err)
		}
	}
}

type wireItem struct {
	Item
	Headers map[string]string `json:"headers,omitempty"`
}

func (b *Batcher) send(batch []*Pending) error {
	items := make([]wireItem, len(batch))
	for i, p := range batch {
		items[i] = wireItem{Item: p.Entry.Data}
		if p.Entry.Token != "" {
			items[i].Headers = map[string]string{"Hull-Access-Token": p.Entry.Token}
		}
	}
	b.metrics.BatchSize.Observe(float64(len(items)))
	b.log.Debugw("firehose.flush", "size", len(items), "url", b.cfg.URL)

	policy := rest.DefaultRetryPolicy()
	policy.MaxAttempts = b.cfg.Attempts
	policy.Backoff = rest.Constant(config.BatchRetry())
	policy.OnRetry = func(n int, err error) {
		b.metrics.Retries.Inc()
		b.log.Warnw("firehose.retry", "retryCount", n, "size", len(items), "error", err)
	}

	// Delivery is not tied to any caller's context.
	ctx := context.Background()
	_, err := b.inv.Call(ctx, b.cfg.Target, "post", b.cfg.URL, map[string]any{
		"batch":  items,
		"sentAt": time.Now().UTC().Format(time.RFC3339Nano),
	}, rest.Options{Timeout: config.BatchTimeout(), Retry: &policy})
	if err != nil {
		b.metrics.Batches.WithLabelValues("failed").Inc()
		b.log.Errorw("firehose.error", "error", err, "size", len(items), "url", b.cfg.URL)
		b.deadLetter(ctx, batch, err)
		return err
	}
	b.metrics.Batches.WithLabelValues("sent").Inc()
	b.metrics.Items.Add(float64(len(items)))
	return nil
}

func (b *Batcher) deadLetter(ctx context.Context, batch []*Pending, cause error) {
	if b.sink == nil {
		return
	}
	entries := make([]Entry, len(batch))
	for i, p := range batch {
		entries[i] = p.Entry
	}
	err := b.sink.Record(ctx, FailedBatch{
		URL:          b.cfg.URL,
		Organization: b.cfg.Target.Organization,
		Entries:      entries,
		Err:          cause,
		FailedAt:     time.Now().UTC(),
	})
	if err != nil {
		b.log.Errorw("firehose.deadletter", "error", err, "size", len(entries))
	}
}
