package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = time.Second
)

// TCPConfig describes a server reached over a socket. Zero durations and
// retries take the package defaults.
type TCPConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	// Retries is the total number of connection attempts.
	Retries    int
	RetryDelay time.Duration
}

// TCP connects to a language server already listening on a socket.
type TCP struct {
	hub
	cfg TCPConfig

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    net.Conn
	done    chan struct{}
}

func NewTCP(cfg TCPConfig) *TCP {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &TCP{cfg: cfg}
}

func (t *TCP) Mode() Mode {
	return ModeTCP
}

func (t *TCP) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

// Connect dials the server, retrying with a fixed delay. Only the last
// failure is returned.
func (t *TCP) Connect(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}
	if t.cfg.Host == "" || t.cfg.Port <= 0 {
		return errors.New("tcp transport requires host and port")
	}

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.Retries; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", t.addr())
		if err == nil {
			t.start(conn)
			return nil
		}
		lastErr = err
		logging.Debug("TCP connect attempt failed", "addr", t.addr(), "attempt", attempt, "error", err)

		if attempt == t.cfg.Retries {
			break
		}
		select {
		case <-time.After(t.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to connect to %s after %d attempts: %w", t.addr(), t.cfg.Retries, lastErr)
}

func (t *TCP) start(conn net.Conn) {
	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	go func() {
		defer logging.RecoverPanic("tcp-reader", nil)
		defer func() {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			t.emitClose()
			close(done)
		}()

		buf := make([]byte, readBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				t.emitData(data)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					t.emitError(fmt.Errorf("read %s: %w", t.addr(), err))
				}
				return
			}
		}
	}()
}

func (t *TCP) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", t.addr(), err)
	}
	return nil
}

func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) Disconnect() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	err := conn.Close()
	<-done
	return err
}
