// Package instrument provides command endpoints for the network analyzer.
//
// An Instrument is an opaque sink for SCPI command strings: this package
// moves lines to and from the analyzer but does not interpret them.
package instrument

import (
	"context"
	"errors"
	"net"
)

// DefaultPort is the raw SCPI socket port of R&S analyzers.
const DefaultPort = "5025"

var (
	ErrClosed     = errors.New("instrument connection closed")
	ErrNoResponse = errors.New("no response to query")
)

// Instrument sends commands and queries to a connected analyzer.
type Instrument interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Dialer opens an Instrument for an address. The address may omit the port.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Instrument, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Instrument, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Instrument, error) {
	return f(ctx, addr)
}

// WithDefaultPort appends DefaultPort to addr when it has no port.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}
