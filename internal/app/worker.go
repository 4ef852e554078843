package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/luksan/rss-im-sweep/internal/instrument"
	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/model"
)

// Result is the single report of a connection attempt.
type Result struct {
	Address string
	IDN     string
	// Snapshot is nil when the lower tone channel is not set up on the
	// analyzer or could not be read back.
	Snapshot *Snapshot
	Err      error

	inst instrument.Instrument
}

// Snapshot is the sweep configuration read back from the lower tone
// channel after connect.
type Snapshot struct {
	SpacingStart  float64
	SpacingStop   float64
	CenterFreq    float64
	SweepPoints   int
	IFBandwidth   float64
	IFSelectivity string
	BasePower     float64
	// Calgroup and TriggerSource are empty when the analyzer reports none.
	Calgroup      string
	TriggerSource string
}

// apply copies the snapshot into the model.
func (s *Snapshot) apply(m *model.Settings) {
	m.SpacingStart.Set(s.SpacingStart)
	m.SpacingStop.Set(s.SpacingStop)
	m.CenterFreq.Set(s.CenterFreq)
	m.SweepPoints.Set(s.SweepPoints)
	m.IFBandwidth.Set(s.IFBandwidth)
	m.IFSelectivity.Set(s.IFSelectivity)
	m.BasePower.Set(s.BasePower)
	if s.Calgroup != "" {
		m.Calgroup.Set(s.Calgroup)
	}
	if s.TriggerSource != "" {
		m.TriggerSource.Set(s.TriggerSource)
	}
}

var triggerFromSCPI = map[string]string{
	"IMM":  model.TriggerFreeRun,
	"PGEN": model.TriggerPulse,
}

var triggerToSCPI = map[string]string{
	model.TriggerFreeRun: "IMM",
	model.TriggerPulse:   "PGEN",
}

// connect is the blocking half of a connection attempt. It runs on its own
// goroutine and must not touch the model.
func connect(ctx context.Context, dialer instrument.Dialer, addr string, tl int, logger logging.Logger) Result {
	res := Result{Address: addr}
	inst, err := dialer.Dial(ctx, addr)
	if err != nil {
		res.Err = err
		return res
	}
	idn, err := inst.Query(ctx, "*IDN?")
	if err != nil {
		inst.Close()
		res.Err = fmt.Errorf("identify: %w", err)
		return res
	}
	res.IDN = idn
	res.inst = inst

	snap, err := readSnapshot(ctx, inst, tl)
	if err != nil {
		logger.Warn("could not read back analyzer settings", logging.Field{Key: "error", Value: err})
	}
	res.Snapshot = snap
	return res
}

// readSnapshot returns nil, nil when channel tl is off or not named TL.
func readSnapshot(ctx context.Context, inst instrument.Instrument, tl int) (*Snapshot, error) {
	q := &querier{ctx: ctx, inst: inst}
	state := q.str("CONF:CHAN%d:STAT?", tl)
	name := unquote(q.str("CONF:CHAN%d:NAME?", tl))
	if q.err != nil {
		return nil, q.err
	}
	if (state != "1" && !strings.EqualFold(state, "ON")) || name != "TL" {
		return nil, nil
	}

	s := &Snapshot{
		SpacingStart:  q.float("SENS%d:FREQ:STAR?", tl),
		SpacingStop:   q.float("SENS%d:FREQ:STOP?", tl),
		CenterFreq:    q.arbCenter(tl),
		SweepPoints:   int(q.float("SENS%d:SWE:POIN?", tl)),
		IFBandwidth:   q.float("SENS%d:BAND?", tl),
		IFSelectivity: strings.ToLower(q.str("SENS%d:BAND:SEL?", tl)),
		BasePower:     q.float("SOUR%d:POW?", tl),
		Calgroup:      unquote(q.str("MMEM:LOAD:CORR? %d", tl)),
		TriggerSource: triggerFromSCPI[strings.ToUpper(q.str("TRIG%d:SEQ:SOUR?", tl))],
	}
	if q.err != nil {
		return nil, q.err
	}
	return s, nil
}

// querier keeps the first error of a sequence of queries.
type querier struct {
	ctx  context.Context
	inst instrument.Instrument
	err  error
}

func (q *querier) str(format string, args ...any) string {
	if q.err != nil {
		return ""
	}
	cmd := fmt.Sprintf(format, args...)
	resp, err := q.inst.Query(q.ctx, cmd)
	if err != nil {
		q.err = fmt.Errorf("%s: %w", cmd, err)
		return ""
	}
	return strings.TrimSpace(resp)
}

func (q *querier) float(format string, args ...any) float64 {
	resp := q.str(format, args...)
	if q.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		q.err = fmt.Errorf("parse %q: %w", resp, err)
	}
	return v
}

// arbCenter extracts the offset frequency from the "num,den,offset,mode"
// arbitrary conversion response.
func (q *querier) arbCenter(ch int) float64 {
	resp := q.str("SENS%d:FREQ:CONV:ARB?", ch)
	if q.err != nil {
		return 0
	}
	parts := strings.Split(resp, ",")
	if len(parts) != 4 {
		q.err = fmt.Errorf("unexpected conversion response %q", resp)
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		q.err = fmt.Errorf("parse %q: %w", parts[2], err)
	}
	return v
}

func unquote(s string) string {
	return strings.Trim(s, `'"`)
}
