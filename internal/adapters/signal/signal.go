// Package signal is the websocket RPC client towards the SFU. It implements
// core.Signaling and publishes the SFU's notifications as core.RemoteEvent.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signaling connection closed")
	ErrRateLimited  = errors.New("signaling rate limit exceeded")
)

// RequestError is a request the SFU answered with ok=false.
type RequestError struct {
	Method  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("signaling %s: %s", e.Method, e.Message)
}

type Options struct {
	URL          string        `mapstructure:"url"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Header       http.Header   `mapstructure:"-"`
}

func DefaultOptions() Options {
	return Options{
		PingPeriod:   20 * time.Second,
		RateLimit:    50,
		RateInterval: time.Second,
	}
}

var (
	_ core.Signaling  = (*Client)(nil)
	_ core.Membership = (*Client)(nil)
)

// Client is one websocket connection to the SFU.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *RateLimiter
	opts    Options

	mu      sync.RWMutex
	closed  bool
	pending map[string]chan inbound
	done    chan struct{}

	qmu    sync.Mutex
	queue  []core.RemoteEvent
	wake   chan struct{}
	events chan core.RemoteEvent
}

// Dial connects to opts.URL and starts the read and write pumps.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	log.Info().Str("module", "signal").Str("url", opts.URL).Msg("signaling connected")
	return newClient(ws, opts), nil
}

func newClient(ws *websocket.Conn, opts Options) *Client {
	c := &Client{
		conn:    ws,
		send:    make(chan []byte, 32),
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
		opts:    opts,
		pending: make(map[string]chan inbound),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		events:  make(chan core.RemoteEvent),
	}
	go c.writePump()
	go c.readPump()
	go c.forward()
	return c
}

// Events yields SFU notifications in arrival order. It is closed with the client.
func (c *Client) Events() <-chan core.RemoteEvent { return c.events }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

// call sends one request and waits for its answer. out may be nil.
func (c *Client) call(ctx context.Context, method string, data, out any) error {
	if !c.limiter.Allow(method) {
		return ErrRateLimited
	}
	id := uuid.NewString()
	b, err := json.Marshal(request{ID: id, Method: method, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan inbound, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.trySend(b); err != nil {
		return err
	}
	log.Debug().Str("module", "signal").Str("method", method).Str("id", id).Msg("request sent")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case resp := <-ch:
		if !resp.OK {
			return &RequestError{Method: method, Message: resp.Error}
		}
		if out == nil || len(resp.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	}
}

func (c *Client) resolve(msg inbound) {
	c.mu.RLock()
	ch, ok := c.pending[msg.ID]
	c.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "signal").Str("id", msg.ID).Msg("response without request")
		return
	}
	select {
	case ch <- msg:
	default:
		log.Warn().Str("module", "signal").Str("id", msg.ID).Msg("duplicate response")
	}
}

func (c *Client) enqueue(ev core.RemoteEvent) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// forward hands queued notifications to Events without ever blocking the read pump.
func (c *Client) forward() {
	defer close(c.events)
	for {
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		c.qmu.Unlock()

		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
	}
}
