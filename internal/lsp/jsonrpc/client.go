package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/transport"
)

const DefaultRequestTimeout = 30 * time.Second

// Handler receives server notifications and server-to-client requests. It
// runs on the transport's reader goroutine and must not block.
type Handler func(msg *Message)

type response struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	method string
	ch     chan response
	timer  *time.Timer
}

// Client multiplexes requests and notifications over one transport.
type Client struct {
	transport transport.Transport
	timeout   time.Duration
	trace     bool
	name      string

	nextID atomic.Int64

	decodeMu sync.Mutex
	decoder  Decoder

	mu          sync.Mutex
	pending     map[int64]*pendingRequest
	handlers    map[int]Handler
	nextHandler int
	disposed    bool

	unsubscribe func()
}

type Option func(*Client)

// WithRequestTimeout sets how long Request waits for a response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTrace logs every frame sent and received at debug level.
func WithTrace(enabled bool) Option {
	return func(c *Client) {
		c.trace = enabled
	}
}

// WithName labels log lines with the server name.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// NewClient subscribes to t and returns a client ready to send.
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		timeout:   DefaultRequestTimeout,
		pending:   make(map[int64]*pendingRequest),
		handlers:  make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = t.Subscribe(transport.Handlers{
		OnData:  c.handleData,
		OnError: c.handleError,
		OnClose: c.handleClose,
	})
	return c
}

// Request sends a request and waits for its response, the request timeout,
// or ctx, whichever comes first.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	payload, err := json.Marshal(Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p := &pendingRequest{method: method, ch: make(chan response, 1)}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(c.timeout, func() {
		c.settle(id, response{err: fmt.Errorf("%w: %s (id %d) got no response within %s", ErrTimeout, method, id, c.timeout)})
	})
	c.mu.Unlock()

	c.traceFrame("send", payload)
	if err := c.transport.Send(Encode(payload)); err != nil {
		c.settle(id, response{})
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case r := <-p.ch:
		return r.result, r.err
	case <-ctx.Done():
		c.settle(id, response{})
		return nil, ctx.Err()
	}
}

// Call is Request with the result decoded into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification. It is silently dropped when the transport is
// not connected.
func (c *Client) Notify(method string, params any) error {
	if !c.transport.IsConnected() {
		logging.Debug("Dropping notification, transport not connected", "server", c.name, "method", method)
		return nil
	}
	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Message{JSONRPC: Version, Method: method, Params: rawParams})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	c.traceFrame("send", payload)
	if err := c.transport.Send(Encode(payload)); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	return nil
}

// Respond answers a server-to-client request. A nil rpcErr sends result.
func (c *Client) Respond(id json.RawMessage, result any, rpcErr *Error) error {
	msg := Message{JSONRPC: Version, ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		raw, err := marshalParams(result)
		if err != nil {
			return err
		}
		if raw == nil {
			raw = json.RawMessage("null")
		}
		msg.Result = raw
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	c.traceFrame("send", payload)
	return c.transport.Send(Encode(payload))
}

// OnMessage registers a handler for everything that is not a response to
// one of our requests.
func (c *Client) OnMessage(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// PendingCount reports how many requests are awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispose rejects all pending requests, drops every handler and stops
// listening to the transport. The transport itself is left to its owner.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.handlers = make(map[int]Handler)
	c.mu.Unlock()

	c.unsubscribe()
	rejectAll(pending, ErrDisposed)
}

func (c *Client) settle(id int64, r response) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	p.ch <- r
	return true
}

func rejectAll(pending map[int64]*pendingRequest, err error) {
	for id, p := range pending {
		p.timer.Stop()
		p.ch <- response{err: fmt.Errorf("%s (id %d): %w", p.method, id, err)}
	}
}

func (c *Client) handleData(data []byte) {
	c.decodeMu.Lock()
	frames := c.decoder.Feed(data)
	c.decodeMu.Unlock()

	for _, frame := range frames {
		c.traceFrame("recv", frame)
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			logging.Debug("Dropping malformed JSON-RPC message", "server", c.name, "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	if msg.IsResponse() {
		if id, ok := msg.numericID(); ok {
			r := response{result: msg.Result}
			if msg.Error != nil {
				r.err = msg.Error
			}
			if c.settle(id, r) {
				return
			}
		}
	}

	c.mu.Lock()
	ids := make([]int, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.handlers[id])
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.deliver(h, msg)
	}
}

// deliver runs one handler. A panicking handler loses its message, not the
// read loop.
func (c *Client) deliver(h Handler, msg *Message) {
	defer logging.RecoverPanic("jsonrpc-handler", nil)
	h(msg)
}

func (c *Client) handleError(err error) {
	logging.Debug("Transport error", "server", c.name, "error", err)
}

func (c *Client) handleClose() {
	c.decodeMu.Lock()
	c.decoder.Reset()
	c.decodeMu.Unlock()

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	if len(pending) > 0 {
		logging.Debug("Rejecting pending requests on close", "server", c.name, "count", len(pending))
	}
	rejectAll(pending, ErrConnectionClosed)
}

func (c *Client) traceFrame(direction string, payload []byte) {
	if c.trace {
		logging.Debug("LSP "+direction, "server", c.name, "payload", string(payload))
	}
}
