package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultRetryBudget = 99

// SignalHandler receives signals that arrive while the client waits.
type SignalHandler func(Message)

// Client is a single-threaded bus connection. Calls must not be issued
// concurrently.
type Client struct {
	t        *transport
	name     string
	serial   uint64
	incoming chan Message
	done     chan struct{}
	readErr  error
	errOnce  sync.Once

	retryBudget int
	handlers    map[string]SignalHandler
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryBudget bounds how many consecutive wakeups that carry nothing for
// the caller a wait tolerates before the connection is declared dead.
func WithRetryBudget(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retryBudget = n
		}
	}
}

// Dial connects to the daemon socket and performs the Hello exchange.
func Dial(ctx context.Context, path string, opts ...ClientOption) (*Client, error) {
	dialer := net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, opts...)
	var name string
	if err := c.Call(ctx, MemberHello, nil, &name); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	c.name = name
	return c, nil
}

// NewClient wraps an established connection without the Hello exchange.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{
		t:           newTransport(conn),
		incoming:    make(chan Message, 64),
		done:        make(chan struct{}),
		retryBudget: defaultRetryBudget,
		handlers:    map[string]SignalHandler{},
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		msg, err := c.t.read()
		if err != nil {
			c.errOnce.Do(func() { c.readErr = err })
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// Name returns the unique name the daemon assigned to this client.
func (c *Client) Name() string { return c.name }

// OnSignal registers fn for signals named member. Handlers run inline on the
// calling goroutine while a call or Wait is in progress.
func (c *Client) OnSignal(member string, fn SignalHandler) {
	c.handlers[member] = fn
}

// Call invokes member with args and decodes the return body into reply.
// Signals received meanwhile are dispatched; unrelated replies are dropped.
func (c *Client) Call(ctx context.Context, member string, args any, reply any) error {
	body, err := encodeBody(args)
	if err != nil {
		return err
	}
	c.serial++
	serial := c.serial
	msg := Message{
		Type:        TypeCall,
		Serial:      serial,
		Sender:      c.name,
		Destination: ServiceName,
		Member:      member,
		Body:        body,
	}
	if err := c.t.write(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	resp, err := c.await(ctx, func(m Message) bool {
		return (m.Type == TypeReturn || m.Type == TypeError) && m.ReplySerial == serial
	})
	if err != nil {
		return err
	}
	if resp.Type == TypeError {
		var eb errorBody
		_ = resp.Decode(&eb)
		return &RemoteError{Name: resp.ErrorName, Message: eb.Message}
	}
	return resp.Decode(reply)
}

// Wait blocks until the named signal arrives and returns it. Other signals
// are dispatched to their handlers.
func (c *Client) Wait(ctx context.Context, member string) (Message, error) {
	return c.await(ctx, func(m Message) bool {
		return m.Type == TypeSignal && m.Member == member
	})
}

// await blocks until a matching message, ctx cancellation, or transport EOF.
// Signals reset the retry budget; stray replies consume it.
func (c *Client) await(ctx context.Context, match func(Message) bool) (Message, error) {
	retries := c.retryBudget
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case m, ok := <-c.incoming:
			if !ok {
				if c.readErr != nil {
					return Message{}, fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
				}
				return Message{}, ErrConnectionClosed
			}
			if match(m) {
				return m, nil
			}
			if m.Type == TypeSignal {
				retries = c.retryBudget
				if fn := c.handlers[m.Member]; fn != nil {
					fn(m)
				}
				continue
			}
			retries--
			if retries <= 0 {
				return Message{}, fmt.Errorf("%w: %d unrelated messages without a reply", ErrConnectionClosed, c.retryBudget)
			}
		}
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.t.close()
}
