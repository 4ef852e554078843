package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/luksan/rss-im-sweep/internal/instrument"
	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/model"
	"github.com/luksan/rss-im-sweep/internal/observable"
	"github.com/luksan/rss-im-sweep/internal/sweep"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, logging.Text, io.Discard)
}

func newTestController(t *testing.T) (*Controller, *model.Settings, *instrument.Mock) {
	t.Helper()
	logger := testLogger()
	s := model.NewSettings(model.DefaultSettings(), logger)
	m := instrument.NewMock()
	c := NewController(s, m, logger, Options{CommandTimeout: time.Second})
	t.Cleanup(func() { c.Close() })
	return c, s, m
}

func pollUntil(t *testing.T, c *Controller, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		c.Poll()
		time.Sleep(time.Millisecond)
	}
}

func connectAndWait(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	pollUntil(t, c, func() bool { return !c.Connecting() })
}

func hasAll(t *testing.T, cmds []string, want ...string) {
	t.Helper()
	seen := make(map[string]bool, len(cmds))
	for _, cmd := range cmds {
		seen[cmd] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("command %q not sent; got %v", w, cmds)
		}
	}
}

func count(cmds []string, sub string) int {
	n := 0
	for _, cmd := range cmds {
		if strings.Contains(cmd, sub) {
			n++
		}
	}
	return n
}

func TestConnectAppliesInstrumentSnapshot(t *testing.T) {
	c, s, m := newTestController(t)
	m.SetResponse("SENS1:BAND?", "5000")
	m.SetResponse("SENS1:BAND:SEL?", "NORM")
	m.SetResponse("TRIG1:SEQ:SOUR?", "PGEN")
	m.SetResponse("SENS1:FREQ:CONV:ARB?", "-1,2,2000000000,SWE")

	var statusAtConnect string
	s.ZVAIsConnected.AddObserver(observable.NewFunc(func(on bool) {
		if on {
			statusAtConnect = s.ConnectionStatus.Get()
		}
	}))

	connectAndWait(t, c)

	if !c.Connected() || !s.ZVAIsConnected.Get() {
		t.Fatal("expected connected")
	}
	want := "Connected to 192.168.56.102, " + instrument.MockIDN
	if statusAtConnect != want {
		t.Fatalf("status at connect = %q, want %q", statusAtConnect, want)
	}
	if s.IFBandwidth.Get() != 5000 || s.IFSelectivity.Get() != "norm" {
		t.Fatalf("IF settings not read back: %v %q", s.IFBandwidth.Get(), s.IFSelectivity.Get())
	}
	if s.TriggerSource.Get() != model.TriggerPulse {
		t.Fatalf("trigger source = %q", s.TriggerSource.Get())
	}
	if s.CenterFreq.Get() != 2e9 {
		t.Fatalf("center freq = %v", s.CenterFreq.Get())
	}

	c.Close()
	if got := m.CommandsWithPrefix("SENS1:BAND "); len(got) != 0 {
		t.Fatalf("snapshot was forwarded back to the analyzer: %v", got)
	}
	if got := m.CommandsWithPrefix("TRIG1:SEQ:SOUR "); len(got) != 0 {
		t.Fatalf("snapshot was forwarded back to the analyzer: %v", got)
	}
	if !m.Closed() {
		t.Fatal("instrument not closed")
	}
}

func TestSnapshotSkippedWhenChannelNotSetUp(t *testing.T) {
	c, s, m := newTestController(t)
	m.SetResponse("CONF:CHAN1:NAME?", "'Ch1'")
	m.SetResponse("SENS1:BAND?", "5000")

	connectAndWait(t, c)
	if !c.Connected() {
		t.Fatal("expected connected")
	}
	if s.IFBandwidth.Get() != 1e3 {
		t.Fatalf("snapshot applied from foreign channel: %v", s.IFBandwidth.Get())
	}
}

func TestUnreadableSnapshotKeepsModel(t *testing.T) {
	c, s, m := newTestController(t)
	m.SetResponse("SENS1:BAND?", "5000")
	m.SetResponse("SENS1:SWE:POIN?", "many")

	connectAndWait(t, c)
	if !c.Connected() {
		t.Fatal("a bad read-back must not fail the connection")
	}
	if s.IFBandwidth.Get() != 1e3 || s.SweepPoints.Get() != 101 {
		t.Fatal("partial snapshot applied")
	}
}

func TestConnectFailure(t *testing.T) {
	c, s, m := newTestController(t)
	m.DialErr = errors.New("no route to host")

	var statuses []string
	s.ConnectionStatus.AddObserver(observable.NewFunc(func(v string) { statuses = append(statuses, v) }))

	connectAndWait(t, c)
	if c.Connected() || s.ZVAIsConnected.Get() {
		t.Fatal("expected disconnected")
	}
	if len(statuses) != 2 || statuses[0] != "Trying to connect to 192.168.56.102" || statuses[1] != StatusFailed {
		t.Fatalf("unexpected status sequence %q", statuses)
	}
}

func TestIdentifyFailureClosesInstrument(t *testing.T) {
	c, s, m := newTestController(t)
	m.QueryErr = errors.New("timeout")

	connectAndWait(t, c)
	if c.Connected() || s.ConnectionStatus.Get() != StatusFailed {
		t.Fatalf("expected failure, status %q", s.ConnectionStatus.Get())
	}
	if !m.Closed() {
		t.Fatal("instrument left open after failed identify")
	}
}

func TestConnectRefusedWhileInFlight(t *testing.T) {
	c, s, m := newTestController(t)
	m.Dialed = make(chan string, 1)
	m.Release = make(chan struct{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-m.Dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never dialed")
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectInFlight) {
		t.Fatalf("expected ErrConnectInFlight, got %v", err)
	}
	c.Poll()
	if s.ZVAIsConnected.Get() {
		t.Fatal("connected before the worker reported")
	}

	close(m.Release)
	pollUntil(t, c, func() bool { return !c.Connecting() })
	if !s.ZVAIsConnected.Get() {
		t.Fatal("expected connected")
	}
	if got := m.Dials(); len(got) != 1 {
		t.Fatalf("expected a single dial, got %v", got)
	}
}

func TestCloseAbandonsAttempt(t *testing.T) {
	c, s, m := newTestController(t)
	m.Dialed = make(chan string, 1)
	m.Release = make(chan struct{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-m.Dialed
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.Connecting() || c.Connected() {
		t.Fatal("attempt still tracked after close")
	}
	if s.ConnectionStatus.Get() != StatusNotConnected {
		t.Fatalf("status = %q", s.ConnectionStatus.Get())
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestForwardingToIMChannels(t *testing.T) {
	c, s, m := newTestController(t)

	s.IFBandwidth.Set(500)
	if len(m.Commands()) != 0 {
		t.Fatal("forwarded while disconnected")
	}

	connectAndWait(t, c)
	s.IFBandwidth.Set(2000)
	s.IFSelectivity.Set("normal")
	s.BasePower.Set(-20)
	s.TriggerSource.Set(model.TriggerPulse)
	s.TriggerSource.Set("External")
	c.Close()

	cmds := m.Commands()
	hasAll(t, cmds,
		"SENS1:BAND 2000", "SENS2:BAND 2000", "SENS3:BAND 2000", "SENS4:BAND 2000",
		"SENS2:BAND:SEL NORMAL",
		"SOUR1:POW -20", "SOUR4:POW -20",
		"TRIG1:SEQ:SOUR PGEN", "TRIG4:SEQ:SOUR PGEN",
	)
	if n := count(cmds, "SENS5:"); n != 0 {
		t.Fatal("cal channel received forwarded settings")
	}
	if n := count(cmds, ":SEQ:SOUR "); n != 4 {
		t.Fatalf("expected 4 trigger commands, got %d", n)
	}
}

func TestInstrumentErrorsReachModel(t *testing.T) {
	c, s, m := newTestController(t)
	connectAndWait(t, c)

	m.SetResponse("SYST:ERR?", `-222,"Data out of range"`)
	s.IFBandwidth.Set(3000)
	pollUntil(t, c, func() bool { return s.InstrumentError.Get() != "" })

	got := s.InstrumentError.Get()
	if !strings.HasPrefix(got, "if_bandwidth: ") || !strings.Contains(got, "Data out of range") {
		t.Fatalf("instrument error = %q", got)
	}
}

func TestRepeatedInstrumentErrorNotifies(t *testing.T) {
	c, s, m := newTestController(t)
	connectAndWait(t, c)

	var reports []string
	s.InstrumentError.AddObserver(observable.NewFunc(func(v string) {
		if v != "" {
			reports = append(reports, v)
		}
	}))
	m.SetResponse("SYST:ERR?", `-222,"Data out of range"`)
	s.IFBandwidth.Set(3000)
	pollUntil(t, c, func() bool { return len(reports) == 1 })
	s.IFBandwidth.Set(1000)
	s.IFBandwidth.Set(3000)
	pollUntil(t, c, func() bool { return len(reports) >= 2 })
	for _, r := range reports {
		if !strings.HasPrefix(r, "if_bandwidth: ") {
			t.Fatalf("unexpected report %q", r)
		}
	}
}

func TestCommandWriteFailureReported(t *testing.T) {
	c, s, m := newTestController(t)
	connectAndWait(t, c)

	m.WriteErr = errors.New("broken pipe")
	s.BasePower.Set(-5)
	pollUntil(t, c, func() bool { return s.InstrumentError.Get() != "" })
	if got := s.InstrumentError.Get(); got != "SOUR1:POW -5: broken pipe" {
		t.Fatalf("instrument error = %q", got)
	}
}

func TestConfigureSweep(t *testing.T) {
	c, _, m := newTestController(t)
	if err := c.ConfigureSweep(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	connectAndWait(t, c)
	if err := c.ConfigureSweep(); err != nil {
		t.Fatalf("configure: %v", err)
	}
	c.Close()

	cmds := m.Commands()
	hasAll(t, cmds,
		"INIT:CONT OFF",
		"CONF:CHAN1:NAME 'TL'", "CONF:CHAN4:NAME 'IM3U'",
		"SENS1:FREQ:CONV:ARB -1,2,1e+09,SWE",
		"SENS2:FREQ:CONV:ARB 1,2,1e+09,SWE",
		"SENS3:FREQ:CONV:ARB -3,2,1e+09,SWE",
		"SENS4:FREQ:CONV:ARB 3,2,1e+09,SWE",
		"SENS1:FREQ:SBAN NEG", "SENS4:FREQ:SBAN POS",
		"SENS3:SWE:POIN 101",
		"SOUR1:FREQ3:CONV:ARB:IFR 1,2,1e+09,SWE",
		"SOUR1:FREQ2:CONV:ARB:IFR 0,1,1e+09,SWE",
		"CALC1:PAR:SDEF 'TL_I','A1D1'",
		"CALC1:PAR:SDEF 'TU_I','A3D3'",
		"CALC3:PAR:SDEF 'IM3L_O','B2D1'",
		"CALC1:MATH:SDEF 'IM3U_O / TU_O'",
		"INIT:CONT ON",
	)
	if n := count(cmds, "CONF:CHAN1:STAT OFF"); n != 0 {
		t.Fatal("lower tone channel must not be cleared")
	}
	if n := count(cmds, "CONF:CHAN2:STAT OFF"); n != 1 {
		t.Fatalf("upper tone channel cleared %d times", n)
	}
}

func TestConnectedObserversSeeInstrumentSettings(t *testing.T) {
	c, s, m := newTestController(t)
	m.SetResponse("SENS1:FREQ:CONV:ARB?", "-1,2,2000000000,SWE")
	m.SetResponse("SENS1:SWE:POIN?", "201")

	var configureErr error
	s.ZVAIsConnected.AddObserver(observable.NewFunc(func(on bool) {
		if on {
			configureErr = c.ConfigureSweep()
		}
	}))
	connectAndWait(t, c)
	if configureErr != nil {
		t.Fatalf("configure: %v", configureErr)
	}
	c.Close()

	cmds := m.Commands()
	hasAll(t, cmds, "SENS1:FREQ:CONV:ARB -1,2,2e+09,SWE", "SENS4:SWE:POIN 201")
	if n := count(cmds, ",1e+09,SWE"); n != 0 {
		t.Fatalf("sweep configured from stale settings: %d commands", n)
	}
	if s.CenterFreq.Get() != 2e9 {
		t.Fatalf("center freq = %v", s.CenterFreq.Get())
	}
}

func TestConfigureSweepRejectsInvalidPlan(t *testing.T) {
	c, s, _ := newTestController(t)
	connectAndWait(t, c)
	s.CenterFreq.Set(10e6)
	if err := c.ConfigureSweep(); !errors.Is(err, sweep.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestCalChannelLifecycle(t *testing.T) {
	c, _, m := newTestController(t)
	for _, op := range []func() error{c.CreateCalChannel, c.ApplyCalibration, c.DeleteCalChannel, func() error { return c.SetRFOutput(true) }} {
		if err := op(); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	}

	connectAndWait(t, c)
	if err := c.ApplyCalibration(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.CreateCalChannel(); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !c.CalChannelActive() {
		t.Fatal("cal channel not tracked")
	}
	if err := c.ApplyCalibration(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.DeleteCalChannel(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.DeleteCalChannel(); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	c.Close()

	cmds := m.Commands()
	if n := count(cmds, ":INS "); n != 4 {
		t.Fatalf("expected 4 segments, got %d", n)
	}
	hasAll(t, cmds,
		"CONF:CHAN5:NAME 'cal'",
		"SENS5:SEGM1:INS 1.0015e+09,1.045e+09,101,-10,AUTO,0,1000",
		"SENS5:SWE:TYPE SEGM",
		"MMEM:STOR:CORR 5,'RSS_im_sweep.cal'",
		"MMEM:LOAD:CORR 1,'RSS_im_sweep.cal'",
		"MMEM:LOAD:CORR 4,'RSS_im_sweep.cal'",
	)
	if n := count(cmds, "MMEM:STOR:CORR"); n != 1 {
		t.Fatalf("correction stored %d times", n)
	}
	if n := count(cmds, "CONF:CHAN5:STAT OFF"); n != 2 {
		t.Fatalf("cal channel switched off %d times", n)
	}
}

func TestCalibrationLoadsRequireCalPool(t *testing.T) {
	c, s, m := newTestController(t)
	if err := c.CalPool(func([]string, error) {}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	m.SetResponse(calPoolQuery, `0,1048576,'Factory.cal,,2048'`)
	connectAndWait(t, c)

	if err := c.ConfigureSweep(); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.ApplyCalibration(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	pool := make(chan []string, 1)
	if err := c.CalPool(func(p []string, err error) {
		if err != nil {
			t.Errorf("cal pool: %v", err)
		}
		pool <- p
	}); err != nil {
		t.Fatalf("cal pool: %v", err)
	}
	if got := <-pool; len(got) != 1 || got[0] != "Factory.cal" {
		t.Fatalf("unexpected pool %v", got)
	}
	pollUntil(t, c, func() bool { return strings.Contains(s.InstrumentError.Get(), "apply_calibration") })
	c.Close()

	if got := m.CommandsWithPrefix("MMEM:LOAD:CORR "); len(got) != 0 {
		t.Fatalf("calibration loaded although missing from the pool: %v", got)
	}
	if got := s.InstrumentError.Get(); !strings.Contains(got, "no calibration named RSS_im_sweep.cal in the cal pool") {
		t.Fatalf("instrument error = %q", got)
	}
	if n := count(m.Commands(), "INIT:CONT ON"); n != 1 {
		t.Fatal("a missing calibration must not abort the sweep setup")
	}
}

func TestCalPoolQueryMatchesMock(t *testing.T) {
	if calPoolQuery != instrument.MockCalPoolQuery {
		t.Fatalf("mock answers %q, controller asks %q", instrument.MockCalPoolQuery, calPoolQuery)
	}
}

func TestParseCalPool(t *testing.T) {
	cases := map[string][]string{
		`4096,1048576,'RSS_im_sweep.cal,,2048','Factory.cal,,2048'`: {"Factory.cal", "RSS_im_sweep.cal"},
		`4096,1048576,'notes.txt,,12','Sub,DIR,0','two.CAL,,9'`:      {"two.CAL"},
		`0,1048576`: nil,
	}
	for resp, want := range cases {
		got := parseCalPool(resp)
		if len(got) != len(want) {
			t.Fatalf("parseCalPool(%q) = %v, want %v", resp, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("parseCalPool(%q) = %v, want %v", resp, got, want)
			}
		}
	}
}

func TestRunExecutesSubmittedWork(t *testing.T) {
	c, s, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	connected := make(chan bool, 1)
	if err := c.Submit(func() { c.Connect(ctx) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for on := false; !on; {
		if err := c.Submit(func() { connected <- s.ZVAIsConnected.Get() }); err != nil {
			t.Fatalf("submit: %v", err)
		}
		select {
		case on = <-connected:
		case <-deadline:
			t.Fatal("owner loop never applied the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	c.Close()
	if err := c.Submit(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := &commandWriter{jobs: make(chan job, 1), logger: testLogger()}
	if !w.enqueue(job{name: "first"}) {
		t.Fatal("first batch dropped")
	}
	if w.enqueue(job{name: "second"}) {
		t.Fatal("expected the second batch to be dropped")
	}
}
