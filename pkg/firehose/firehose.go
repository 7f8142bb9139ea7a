// Package firehose batches outbound writes and delivers them to the platform's
// ingestion endpoint.
//
// A Batcher accumulates entries and flushes them as a single POST
//
//	{"batch": [{type, body, requestId, headers}, ...], "sentAt": ...}
//
// when either FlushAt entries are queued or FlushAfter has elapsed since the
// first entry of the batch. Batches are sent one at a time in the order they
// were cut. A batch is atomic: every entry of a failed batch is rejected and
// none is put back into the queue.
package firehose

import (
	"context"
	"errors"
	"time"

	"hullclient/pkg/configuration"
	"hullclient/pkg/rest"
)

const (
	DefaultFlushAt    = 100
	DefaultFlushAfter = 10 * time.Millisecond
	// DefaultAttempts counts the first send; transient failures are retried
	// twice.
	DefaultAttempts = 3
)

// ErrClosed rejects entries enqueued after Close.
var ErrClosed = errors.New("firehose: batcher closed")

// Item is one write, as sent in the batch array.
type Item struct {
	Type      string         `json:"type"`
	Body      map[string]any `json:"body"`
	RequestID string         `json:"requestId,omitempty"`
}

// Entry is an item together with the client that produced it. Context is
// descriptive only; Token is the scoped access token sent with the item.
type Entry struct {
	Context map[string]any `json:"context"`
	Data    Item           `json:"data"`
	Token   string         `json:"-"`
}

// Queue accepts entries for delivery.
type Queue interface {
	Enqueue(e Entry) *Pending
}

// Pending tracks the delivery of a single entry.
type Pending struct {
	Entry Entry
	done  chan struct{}
	err   error
}

func newPending(e Entry) *Pending {
	return &Pending{Entry: e, done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the entry's batch was delivered or rejected.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the entry's batch settles or ctx ends. Giving up on ctx
// does not cancel delivery.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config identifies a firehose destination.
type Config struct {
	URL        string
	Target     rest.Target
	FlushAt    int
	FlushAfter time.Duration
	// Attempts bounds delivery tries per batch.
	Attempts int
}

// ConfigFrom derives the destination from client settings. Batches are
// authenticated as the connector; each item carries its own scoped token.
func ConfigFrom(s configuration.Settings) Config {
	url := s.FirehoseURL
	if url == "" {
		url = s.Protocol + "://firehose." + s.Domain
	}
	t := rest.TargetFrom(s)
	t.AccessToken = ""
	t.UserID = ""
	return Config{
		URL:        url,
		Target:     t,
		FlushAt:    s.FlushAt,
		FlushAfter: s.FlushAfterDuration(),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.FlushAt <= 0 {
		c.FlushAt = DefaultFlushAt
	}
	if c.FlushAfter <= 0 {
		c.FlushAfter = DefaultFlushAfter
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	return c
}

// key groups clients that share a queue.
func (c Config) key() string {
	return c.Target.ID + "\x00" + c.Target.Secret + "\x00" + c.Target.Organization
}
