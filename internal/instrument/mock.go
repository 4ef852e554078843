package instrument

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockIDN is the identification string reported by a fresh Mock.
const MockIDN = "Rohde-Schwarz,ZVA24-4Port,1145110020100001,3.60"

// MockCalPoolQuery is the calibration data catalog query a fresh Mock
// answers with two groups, RSS_im_sweep.cal and Factory.cal.
const MockCalPoolQuery = `MMEM:CAT? 'C:\Rohde&Schwarz\Nwa\Calibration\Data'`

// Mock is an in-memory analyzer. It is both the Dialer and the Instrument,
// answers queries from a response table and records every command.
type Mock struct {
	mu        sync.Mutex
	responses map[string]string
	log       []string
	dials     []string
	closed    bool

	// DialErr, WriteErr and QueryErr are returned by the matching calls
	// when set.
	DialErr  error
	WriteErr error
	QueryErr error

	// Dialed, when non-nil, receives the address of each Dial before it
	// returns; tests use it to hold a connection attempt open.
	Dialed chan string
	// Release, when non-nil, must yield a value before Dial returns.
	Release chan struct{}
}

// NewMock returns a mock that identifies itself as a ZVA with channel 1
// configured as the lower tone channel.
func NewMock() *Mock {
	return &Mock{responses: map[string]string{
		"*IDN?":                MockIDN,
		"CONF:CHAN1:STAT?":     "1",
		"CONF:CHAN1:NAME?":     "'TL'",
		"SENS1:FREQ:STAR?":     "1000000",
		"SENS1:FREQ:STOP?":     "30000000",
		"SENS1:FREQ:CONV:ARB?": "-1,2,1000000000,SWE",
		"SENS1:SWE:POIN?":      "101",
		"SENS1:BAND?":          "1000",
		"SENS1:BAND:SEL?":      "HIGH",
		"SOUR1:POW?":           "-10",
		"MMEM:LOAD:CORR? 1":    "'RSS_im_sweep.cal'",
		"TRIG1:SEQ:SOUR?":      "IMM",
		"SYST:ERR?":            `0,"No error"`,
		MockCalPoolQuery:       `4096,1048576,'RSS_im_sweep.cal,,2048','Factory.cal,,2048'`,
	}}
}

// SetResponse scripts the answer to a query.
func (m *Mock) SetResponse(query, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[query] = response
}

// Dial hands out the mock itself.
func (m *Mock) Dial(ctx context.Context, addr string) (Instrument, error) {
	if m.Dialed != nil {
		m.Dialed <- addr
	}
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials = append(m.dials, addr)
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	m.closed = false
	return m, nil
}

func (m *Mock) Write(_ context.Context, cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.log = append(m.log, cmd)
	return nil
}

func (m *Mock) Query(_ context.Context, cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if m.QueryErr != nil {
		return "", m.QueryErr
	}
	m.log = append(m.log, cmd)
	resp, ok := m.responses[cmd]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoResponse, cmd)
	}
	return resp, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Commands returns every command and query received, in order.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

// CommandsWithPrefix filters Commands by prefix.
func (m *Mock) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, cmd := range m.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

// Dials returns the addresses passed to Dial.
func (m *Mock) Dials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dials...)
}

// Closed reports whether the mock connection is closed.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
