// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Client errors
var (
	ErrClosed  = errors.New("connection closed")
	ErrTimeout = errors.New("timeout waiting for reply")
)

// DefaultTimeout bounds a single request/reply round trip
const DefaultTimeout = 2 * time.Second

// Client issues requests over a stream and waits for the matching reply.
// The protocol has no request ids, so one request is in flight at a time.
type Client struct {
	rw      io.ReadWriter
	timeout time.Duration

	mu      sync.Mutex // serialises Do
	replies chan []byte
	done    chan struct{}
	readErr error
}

// NewClient starts reading rw in the background.
// A timeout of zero selects DefaultTimeout.
func NewClient(rw io.ReadWriter, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		rw:      rw,
		timeout: timeout,
		replies: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	framer := NewFramer(0)
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		for _, obj := range framer.FeedAll(buf[:n]) {
			select {
			case c.replies <- obj:
			default:
				// nobody is waiting; drop the oldest
				select {
				case <-c.replies:
				default:
				}
				c.replies <- obj
			}
		}
		if err != nil {
			c.readErr = err
			return
		}
	}
}

// Do writes one request and returns the next reply object
func (c *Client) Do(ctx context.Context, req []byte) (*Reply, error) {
	raw, err := c.DoRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseReply(raw)
}

// DoRaw writes one request and returns the next reply object unparsed
func (c *Client) DoRaw(ctx context.Context, req []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// discard unsolicited objects left over from earlier exchanges
	for drained := false; !drained; {
		select {
		case <-c.replies:
		default:
			drained = true
		}
	}

	if _, err := c.rw.Write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case obj := <-c.replies:
		return obj, nil
	case <-c.done:
		// the reader may have queued a final reply before stopping
		select {
		case obj := <-c.replies:
			return obj, nil
		default:
		}
		if c.readErr != nil && !errors.Is(c.readErr, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get reads the given fields
func (c *Client) Get(ctx context.Context, fields FieldSet) (*Reply, error) {
	return c.Do(ctx, NewGetRequest(fields))
}

// Set sends a configure-request
func (c *Client) Set(ctx context.Context, a Assignments) (*Reply, error) {
	return c.Do(ctx, NewSetRequest(a))
}

// Ping reads the firmware id and measures the round trip
func (c *Client) Ping(ctx context.Context) (string, time.Duration, error) {
	start := time.Now()
	reply, err := c.Do(ctx, NewFirmwareRequest())
	if err != nil {
		return "", 0, err
	}
	return reply.Firmware, time.Since(start), nil
}
