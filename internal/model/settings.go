package model

import (
	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/observable"
)

// Registry keys. They double as the keys of the persisted settings file.
const (
	KeyZVAAddress       = "zva_address"
	KeyCenterFreq       = "center_freq"
	KeySpacingStart     = "spacing_start"
	KeySpacingStop      = "spacing_stop"
	KeySweepPoints      = "sweep_points"
	KeyIFBandwidth      = "if_bandwidth"
	KeyIFSelectivity    = "if_selectivity"
	KeyBasePower        = "base_power"
	KeyCalgroup         = "calgroup"
	KeyCalPower         = "cal_power"
	KeySrcTL            = "src_tl"
	KeySrcTU            = "src_tu"
	KeyPortDUTOut       = "port_dut_out"
	KeyCombinerMode     = "combiner_mode"
	KeyChTL             = "ch_tl"
	KeyChTU             = "ch_tu"
	KeyChIM3L           = "ch_im3l"
	KeyChIM3U           = "ch_im3u"
	KeyChCal            = "ch_cal"
	KeyTriggerSource    = "trigger_source"
	KeyZVAIsConnected   = "zva_is_connected"
	KeyConnectionStatus = "connection_status"
	KeyInstrumentError  = "instrument_error"
	KeyMinimizedPos     = "minimized_pos"
	KeyIsMinimized      = "is_minimized"
	KeyShowSoftkeys     = "show_softkeys"
	KeyTraces           = "traces"

	// legacyKeyZVAAddress is the misspelt address key of older settings files.
	legacyKeyZVAAddress = "zva_adress"
)

// Trigger sources understood by the controller.
const (
	TriggerFreeRun = "Free run"
	TriggerPulse   = "Pulse"
)

// Defaults holds the initial value of every registered variable.
type Defaults struct {
	ZVAAddress    string
	CenterFreq    float64
	SpacingStart  float64
	SpacingStop   float64
	SweepPoints   int
	IFBandwidth   float64
	IFSelectivity string
	BasePower     float64
	Calgroup      string
	CalPower      float64
	SrcTL         int
	SrcTU         int
	PortDUTOut    int
	CombinerMode  string
	ChTL          int
	ChTU          int
	ChIM3L        int
	ChIM3U        int
	ChCal         int
	TriggerSource string
	MinimizedPos  string
	ShowSoftkeys  bool
}

// DefaultSettings returns the factory defaults.
func DefaultSettings() Defaults {
	return Defaults{
		ZVAAddress:    "192.168.56.102",
		CenterFreq:    1e9,
		SpacingStart:  1e6,
		SpacingStop:   30e6,
		SweepPoints:   101,
		IFBandwidth:   1e3,
		IFSelectivity: "high",
		BasePower:     -10,
		Calgroup:      "RSS_im_sweep.cal",
		CalPower:      -10,
		SrcTL:         1,
		SrcTU:         3,
		PortDUTOut:    2,
		CombinerMode:  "external",
		ChTL:          1,
		ChTU:          2,
		ChIM3L:        3,
		ChIM3U:        4,
		ChCal:         5,
		TriggerSource: TriggerFreeRun,
		MinimizedPos:  "+500+0",
		ShowSoftkeys:  true,
	}
}

// Settings is the application model: a closed Registry plus typed handles
// for each of its variables.
type Settings struct {
	*Registry

	ZVAAddress    *observable.Var[string]
	CenterFreq    *observable.Var[float64]
	SpacingStart  *observable.Var[float64]
	SpacingStop   *observable.Var[float64]
	SweepPoints   *observable.Var[int]
	IFBandwidth   *observable.Var[float64]
	IFSelectivity *observable.Var[string]
	BasePower     *observable.Var[float64]

	Calgroup *observable.Var[string]
	CalPower *observable.Var[float64]

	SrcTL        *observable.Var[int]
	SrcTU        *observable.Var[int]
	PortDUTOut   *observable.Var[int]
	CombinerMode *observable.Var[string]

	ChTL   *observable.Var[int]
	ChTU   *observable.Var[int]
	ChIM3L *observable.Var[int]
	ChIM3U *observable.Var[int]
	ChCal  *observable.Var[int]

	TriggerSource    *observable.Var[string]
	ZVAIsConnected   *observable.Var[bool]
	ConnectionStatus *observable.Var[string]
	InstrumentError  *observable.Var[string]

	MinimizedPos *observable.Var[string]
	IsMinimized  *observable.Var[bool]
	ShowSoftkeys *observable.Var[bool]

	Traces *TraceCollection
}

// NewSettings registers the fixed variable table with d as initial values
// and closes the registry.
func NewSettings(d Defaults, logger logging.Logger) *Settings {
	s := &Settings{Registry: NewRegistry(logger)}

	s.ZVAAddress = reg(s, KeyZVAAddress, d.ZVAAddress, true)
	s.CenterFreq = reg(s, KeyCenterFreq, d.CenterFreq, true)
	s.SpacingStart = reg(s, KeySpacingStart, d.SpacingStart, true)
	s.SpacingStop = reg(s, KeySpacingStop, d.SpacingStop, true)
	s.SweepPoints = reg(s, KeySweepPoints, d.SweepPoints, true)
	s.IFBandwidth = reg(s, KeyIFBandwidth, d.IFBandwidth, true)
	s.IFSelectivity = reg(s, KeyIFSelectivity, d.IFSelectivity, true)
	s.BasePower = reg(s, KeyBasePower, d.BasePower, false)

	s.Calgroup = reg(s, KeyCalgroup, d.Calgroup, true)
	s.CalPower = reg(s, KeyCalPower, d.CalPower, true)

	s.SrcTL = reg(s, KeySrcTL, d.SrcTL, true)
	s.SrcTU = reg(s, KeySrcTU, d.SrcTU, true)
	s.PortDUTOut = reg(s, KeyPortDUTOut, d.PortDUTOut, true)
	s.CombinerMode = reg(s, KeyCombinerMode, d.CombinerMode, true)

	s.ChTL = reg(s, KeyChTL, d.ChTL, true)
	s.ChTU = reg(s, KeyChTU, d.ChTU, true)
	s.ChIM3L = reg(s, KeyChIM3L, d.ChIM3L, true)
	s.ChIM3U = reg(s, KeyChIM3U, d.ChIM3U, true)
	s.ChCal = reg(s, KeyChCal, d.ChCal, true)

	s.TriggerSource = reg(s, KeyTriggerSource, d.TriggerSource, false)
	s.ZVAIsConnected = reg(s, KeyZVAIsConnected, false, false)
	s.ConnectionStatus = reg(s, KeyConnectionStatus, "Not connected", false)
	s.InstrumentError = reg(s, KeyInstrumentError, "", false)

	s.MinimizedPos = reg(s, KeyMinimizedPos, d.MinimizedPos, true)
	s.IsMinimized = reg(s, KeyIsMinimized, false, false)
	s.ShowSoftkeys = reg(s, KeyShowSoftkeys, d.ShowSoftkeys, true)

	s.Traces = NewTraceCollection(KeyTraces, true)
	mustRegister(s.Registry, s.Traces)
	if err := s.Alias(legacyKeyZVAAddress, KeyZVAAddress); err != nil {
		panic(err)
	}

	s.Close()
	return s
}

// SetupDefaultTraces seeds the trace table with the lower tone input trace.
func (s *Settings) SetupDefaultTraces() error {
	if _, ok := s.Traces.Trace("TL_I"); ok {
		return nil
	}
	src := s.SrcTL.Get()
	return s.Traces.AddTrace("TL_I", Wave("A", src, src), "", 1)
}

func reg[T comparable](s *Settings, name string, initial T, persistent bool) *observable.Var[T] {
	e := Variable(name, initial, persistent)
	mustRegister(s.Registry, e)
	return e.Var()
}

// mustRegister only fails on a programming error in the fixed table.
func mustRegister(r *Registry, e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}
