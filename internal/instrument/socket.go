package instrument

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/luksan/rss-im-sweep/internal/logging"
)

const (
	defaultTimeout = 5 * time.Second
	maxLineLen     = 1 << 20
)

// Socket is a line-oriented SCPI connection over a stream. Commands are
// LF-terminated; every query reads exactly one LF-terminated response. Any
// failed read or write closes the socket.
type Socket struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	logger  logging.Logger
	closed  bool
}

// NewSocket wraps an established connection.
func NewSocket(conn net.Conn, timeout time.Duration, logger logging.Logger) *Socket {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Socket{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 4096),
		timeout: timeout,
		logger:  logger.With(logging.Subsystem("scpi")),
	}
}

// Write sends one command.
func (s *Socket) Write(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, cmd)
}

// Query sends cmd and returns the response line without its terminator.
func (s *Socket) Query(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, cmd); err != nil {
		return "", err
	}
	stop := s.arm(ctx)
	defer stop()

	line, err := s.readLine()
	if err != nil {
		s.drop()
		if ctx.Err() != nil {
			return "", fmt.Errorf("query %q: %w", cmd, ctx.Err())
		}
		return "", fmt.Errorf("query %q: %w", cmd, err)
	}
	s.logger.Debug("read", logging.Field{Key: "cmd", Value: cmd}, logging.Field{Key: "resp", Value: line})
	return line, nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// drop closes a connection whose framing can no longer be trusted, such as
// after a timed out read whose reply may still arrive. Later calls return
// ErrClosed. Caller holds mu.
func (s *Socket) drop() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
	s.logger.Warn("connection dropped after failed I/O")
}

func (s *Socket) write(ctx context.Context, cmd string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := s.arm(ctx)
	defer stop()

	s.logger.Debug("write", logging.Field{Key: "cmd", Value: cmd})
	b := []byte(strings.TrimRight(cmd, "\r\n") + "\n")
	for len(b) > 0 {
		n, err := s.conn.Write(b)
		if err != nil {
			s.drop()
			if ctx.Err() != nil {
				return fmt.Errorf("write %q: %w", cmd, ctx.Err())
			}
			return fmt.Errorf("write %q: %w", cmd, err)
		}
		b = b[n:]
	}
	return nil
}

// arm applies the per-operation deadline and interrupts blocked I/O when ctx
// is canceled. Streams without deadline support (SSH channels) ignore both.
func (s *Socket) arm(ctx context.Context) func() {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

func (s *Socket) readLine() (string, error) {
	var b strings.Builder
	for {
		chunk, isPrefix, err := s.r.ReadLine()
		if err != nil {
			return "", err
		}
		b.Write(chunk)
		if b.Len() > maxLineLen {
			return "", fmt.Errorf("response exceeds %d bytes", maxLineLen)
		}
		if !isPrefix {
			return strings.TrimRight(b.String(), "\r"), nil
		}
	}
}

// SocketDialer dials the analyzer's raw SCPI socket directly.
type SocketDialer struct {
	Timeout time.Duration
	Logger  logging.Logger
}

func (d SocketDialer) Dial(ctx context.Context, addr string) (Instrument, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", WithDefaultPort(addr))
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	return NewSocket(conn, timeout, d.Logger), nil
}
