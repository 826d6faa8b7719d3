// Package stream provides the single-writer, single-reader channel that
// carries model output deltas to a caller.
//
// A Channel starts Open. The writer appends deltas and ends the stream with
// Close (Closed) or Fail (Failed). The reader consumes deltas in order with
// Next and may abandon the stream with Cancel (Cancelled). Deltas are never
// reordered or dropped between the writer and the reader, and Text is the
// concatenation of every accepted delta, frozen once the channel is terminal.
//
// Cancel never strands the writer: a blocked Append returns ErrCancelled and
// Close/Fail stay valid afterwards.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrCancelled is returned to the writer after the reader cancelled, and
	// to the reader once it has cancelled.
	ErrCancelled = errors.New("stream cancelled")
	// ErrClosed is returned by Append after Close or Fail.
	ErrClosed = errors.New("stream closed")
)

// State of a Channel.
type State int

const (
	Open State = iota
	Closed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// DefaultBuffer is the number of deltas a writer may run ahead of the reader.
const DefaultBuffer = 64

// Channel is an append-only delta stream.
type Channel struct {
	deltas    chan string
	space     chan struct{}
	cancelled chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	state    State
	err      error
	text     strings.Builder
	count    int
	drained  bool
	doneOnce sync.Once
}

// New returns an open Channel that buffers up to buffer deltas. A buffer
// <= 0 uses DefaultBuffer.
func New(buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		deltas:    make(chan string, buffer),
		space:     make(chan struct{}, 1),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Append pushes delta to the reader, blocking only while the buffer is full.
// It returns ErrCancelled once the reader has cancelled and ErrClosed after
// Close or Fail. Empty deltas are ignored. A delta is enqueued and added to
// Text under one lock, so a nil return means the reader can see it and Text
// includes it.
func (c *Channel) Append(delta string) error {
	if delta == "" {
		return c.writable()
	}
	for {
		c.mu.Lock()
		if err := c.writableLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
		select {
		case c.deltas <- delta:
			c.text.WriteString(delta)
			c.count++
			c.mu.Unlock()
			return nil
		default:
		}
		c.mu.Unlock()

		select {
		case <-c.space:
		case <-c.cancelled:
			return ErrCancelled
		}
	}
}

func (c *Channel) writable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writableLocked()
}

func (c *Channel) writableLocked() error {
	switch c.state {
	case Open:
		return nil
	case Cancelled:
		return ErrCancelled
	default:
		return ErrClosed
	}
}

// Close marks successful completion. After a reader cancel it only releases
// the writer side; the state stays Cancelled.
func (c *Channel) Close() { c.finish(Closed, nil) }

// Fail ends the stream with err. Deltas already appended remain readable.
func (c *Channel) Fail(err error) {
	if err == nil {
		err = errors.New("stream failed")
	}
	c.finish(Failed, err)
}

func (c *Channel) finish(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drained {
		return
	}
	c.drained = true
	close(c.deltas)
	if c.state == Open {
		c.state = s
		c.err = err
	}
	c.markDone()
}

// Cancel abandons the stream from the reader side. It is safe to call more
// than once and after the stream has ended.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return
	}
	c.state = Cancelled
	c.err = ErrCancelled
	close(c.cancelled)
	c.markDone()
}

func (c *Channel) markDone() { c.doneOnce.Do(func() { close(c.done) }) }

// Next returns the next delta in generation order. When the stream has
// ended and every delta was consumed it returns ok=false with a nil error
// for Closed, the failure for Failed, or ErrCancelled.
func (c *Channel) Next(ctx context.Context) (string, bool, error) {
	select {
	case <-c.cancelled:
		return "", false, ErrCancelled
	default:
	}
	select {
	case d, ok := <-c.deltas:
		if ok {
			select {
			case c.space <- struct{}{}:
			default:
			}
			return d, true, nil
		}
		return "", false, c.Err()
	case <-c.cancelled:
		return "", false, ErrCancelled
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Text returns the concatenation of all accepted deltas.
func (c *Channel) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Count returns the number of accepted deltas.
func (c *Channel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error: nil while Open or after Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the channel reaches a terminal state.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Cancelled is closed when the reader cancels.
func (c *Channel) Cancelled() <-chan struct{} { return c.cancelled }
