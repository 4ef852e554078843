package app

import (
	"fmt"
	"strconv"

	"github.com/luksan/rss-im-sweep/internal/model"
	"github.com/luksan/rss-im-sweep/internal/sweep"
)

// Frequencies the analyzer accepts on every model. Set before the
// arbitrary conversion to avoid out of range errors.
const (
	safeStart = 10e6
	safeStop  = 30e6
)

const (
	measDiagram  = 1
	ratioDiagram = 2
	calDiagram   = 3
)

// num formats a value the shortest way the analyzer parses back exactly.
func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Plan returns the sweep plan described by the model.
func (c *Controller) Plan() sweep.Plan {
	s := c.settings
	return sweep.Plan{
		Center:       s.CenterFreq.Get(),
		SpacingStart: s.SpacingStart.Get(),
		SpacingStop:  s.SpacingStop.Get(),
		Points:       s.SweepPoints.Get(),
	}
}

// ConfigureSweep sets up the four IM channels and their traces.
func (c *Controller) ConfigureSweep() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	plan := c.Plan()
	if err := plan.Validate(); err != nil {
		return err
	}
	s := c.settings
	fc := num(plan.Center)
	srcTL, srcTU, dutOut := s.SrcTL.Get(), s.SrcTU.Get(), s.PortDUTOut.Get()

	im := c.channels.IM()
	cmds := lines("INIT:CONT OFF")
	for i, ch := range sweep.Channels() {
		n := im[i]
		cmds = append(cmds, lines(c.channelSetup(n, ch, plan, i > 0)...)...)
		if ch.Name != "TL" {
			continue
		}
		cmds = append(cmds, loadCal(n, s.Calgroup.Get()))
		cmds = append(cmds, lines(
			fmt.Sprintf("SOUR%d:FREQ%d:CONV:ARB:IFR -1,2,%s,SWE", n, srcTL, fc),
			fmt.Sprintf("SOUR%d:FREQ%d:CONV:ARB:IFR 1,2,%s,SWE", n, srcTU, fc),
			fmt.Sprintf("SOUR%d:FREQ%d:CONV:ARB:IFR 0,1,%s,SWE", n, dutOut, fc),
			fmt.Sprintf("SOUR%d:POW%d:PERM:STAT ON", n, srcTL),
			fmt.Sprintf("SOUR%d:POW%d:PERM:STAT ON", n, srcTU),
			// a-waves are measured at the source frequency
			fmt.Sprintf("SENS%d:FREQ:CONV:AWR:STAT OFF", n),
		)...)
	}
	cmds = append(cmds, lines(c.traceSetup(srcTL, srcTU, dutOut)...)...)
	cmds = append(cmds, lines("INIT:CONT ON")...)
	c.send("configure_sweep", cmds)
	return nil
}

func (c *Controller) channelSetup(n int, ch sweep.Channel, plan sweep.Plan, clear bool) []string {
	var cmds []string
	if clear {
		cmds = append(cmds, fmt.Sprintf("CONF:CHAN%d:STAT OFF", n))
	}
	band := "NEG"
	if ch.LOHigh {
		band = "POS"
	}
	return append(cmds,
		fmt.Sprintf("CONF:CHAN%d:STAT ON", n),
		fmt.Sprintf("CONF:CHAN%d:NAME '%s'", n, ch.Name),
		fmt.Sprintf("SENS%d:SWE:TYPE LIN", n),
		fmt.Sprintf("SENS%d:SWE:POIN %d", n, plan.Points),
		fmt.Sprintf("SENS%d:FREQ:STAR %s", n, num(safeStart)),
		fmt.Sprintf("SENS%d:FREQ:STOP %s", n, num(safeStop)),
		fmt.Sprintf("SENS%d:FREQ:CONV:ARB %d,%d,%s,SWE", n, ch.Numerator, sweep.Denominator, num(plan.Center)),
		fmt.Sprintf("SENS%d:FREQ:STAR %s", n, num(plan.SpacingStart)),
		fmt.Sprintf("SENS%d:FREQ:STOP %s", n, num(plan.SpacingStop)),
		fmt.Sprintf("SENS%d:FREQ:SBAN %s", n, band),
	)
}

type traceDef struct {
	channel int
	name    string
	param   string
	diagram int
}

// traceSetup creates the incident and output wave traces and the two IM3
// ratio traces.
func (c *Controller) traceSetup(srcTL, srcTU, dutOut int) []string {
	ch := c.channels
	out := model.Wave("B", srcTL, dutOut).String()
	defs := []traceDef{
		{ch.TL, "TL_I", model.Wave("A", srcTL, srcTL).String(), measDiagram},
		{ch.TL, "TU_I", model.Wave("A", srcTU, srcTU).String(), measDiagram},
		{ch.TL, "TL_O", out, measDiagram},
		{ch.TU, "TU_O", out, measDiagram},
		{ch.IM3L, "IM3L_O", out, measDiagram},
		{ch.IM3U, "IM3U_O", out, measDiagram},
	}
	var cmds []string
	for _, d := range defs {
		cmds = append(cmds,
			fmt.Sprintf("CALC%d:PAR:SDEF '%s','%s'", d.channel, d.name, d.param),
			fmt.Sprintf("DISP:WIND%d:TRAC:EFE '%s'", d.diagram, d.name))
	}
	for _, r := range []struct{ name, expr string }{
		{"IM3L_OR", "IM3L_O / TL_O"},
		{"IM3U_OR", "IM3U_O / TU_O"},
	} {
		cmds = append(cmds,
			fmt.Sprintf("CALC%d:PAR:SDEF '%s','%s'", ch.TL, r.name, out),
			fmt.Sprintf("CALC%d:PAR:SEL '%s'", ch.TL, r.name),
			fmt.Sprintf("CALC%d:MATH:SDEF '%s'", ch.TL, r.expr),
			fmt.Sprintf("CALC%d:MATH:STAT ON", ch.TL),
			fmt.Sprintf("DISP:WIND%d:TRAC:EFE '%s'", ratioDiagram, r.name))
	}
	return cmds
}

// CreateCalChannel sets up a fundamental segmented sweep covering all
// frequencies of the plan and loads the calibration group into it when the
// group is in the cal pool.
func (c *Controller) CreateCalChannel() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	plan := c.Plan()
	if err := plan.Validate(); err != nil {
		return err
	}
	s := c.settings
	n := c.channels.Cal
	power := s.CalPower.Get()
	texts := []string{
		fmt.Sprintf("CONF:CHAN%d:STAT OFF", n),
		fmt.Sprintf("INST:NSEL %d", c.channels.TL),
		fmt.Sprintf("CONF:CHAN%d:STAT ON", n),
		fmt.Sprintf("CONF:CHAN%d:NAME 'cal'", n),
		fmt.Sprintf("SENS%d:FREQ:CONV FUND", n),
		fmt.Sprintf("SENS%d:SEGM:DEL:ALL", n),
	}
	for i, seg := range plan.CalSegments(s.IFBandwidth.Get(), power) {
		texts = append(texts, fmt.Sprintf("SENS%d:SEGM%d:INS %s,%s,%d,%s,AUTO,0,%s",
			n, i+1, num(seg.Start), num(seg.Stop), seg.Points, num(seg.Power), num(seg.IFBW)))
	}
	texts = append(texts,
		fmt.Sprintf("SENS%d:SEGM:POW:CONT OFF", n),
		fmt.Sprintf("SENS%d:SEGM:BWID:CONT OFF", n),
		fmt.Sprintf("SENS%d:SWE:TYPE SEGM", n),
		fmt.Sprintf("SOUR%d:POW %s", n, num(power)),
		fmt.Sprintf("DISP:WIND%d:STAT ON", calDiagram),
		fmt.Sprintf("CALC%d:PAR:SDEF 'Cal','S21'", n),
		fmt.Sprintf("DISP:WIND%d:TRAC:EFE 'Cal'", calDiagram),
	)
	c.send("create_cal_channel", append(lines(texts...), loadCal(n, s.Calgroup.Get())))
	c.calActive = true
	return nil
}

// ApplyCalibration stores the cal channel's correction under the
// calibration group, when a cal channel exists, and loads the group into
// every IM channel. A group missing from the cal pool is reported as an
// instrument error and not loaded.
func (c *Controller) ApplyCalibration() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	group := c.settings.Calgroup.Get()
	var cmds []command
	if c.calActive {
		cmds = lines(fmt.Sprintf("MMEM:STOR:CORR %d,'%s'", c.channels.Cal, group))
	}
	for _, n := range c.channels.IM() {
		cmds = append(cmds, loadCal(n, group))
	}
	c.send("apply_calibration", cmds)
	return nil
}

// DeleteCalChannel turns the calibration channel off.
func (c *Controller) DeleteCalChannel() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if !c.calActive {
		return nil
	}
	c.send("delete_cal_channel", lines(fmt.Sprintf("CONF:CHAN%d:STAT OFF", c.channels.Cal)))
	c.calActive = false
	return nil
}

// CalChannelActive reports whether CreateCalChannel ran on this session.
func (c *Controller) CalChannelActive() bool { return c.calActive }

// SetRFOutput switches all source outputs.
func (c *Controller) SetRFOutput(on bool) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	c.send("rf_output", lines("OUTP:STAT "+state))
	return nil
}
