// Package sweep computes the frequency plan of a two-tone IM3 sweep.
//
// The two tones sit at fc-d/2 and fc+d/2 for a tone spacing d swept from
// SpacingStart to SpacingStop. The third-order products then fall at
// fc-3d/2 and fc+3d/2. Each of the four frequencies is measured in its own
// analyzer channel using an arbitrary frequency conversion of the swept
// spacing: f = (Numerator/2)*d + fc.
package sweep

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Denominator of every channel's arbitrary frequency conversion.
const Denominator = 2

var ErrInvalidPlan = errors.New("invalid sweep plan")

// Plan describes the swept tone spacing around a centre frequency.
type Plan struct {
	Center       float64
	SpacingStart float64
	SpacingStop  float64
	Points       int
}

// Validate checks that every product of the sweep is a positive frequency.
func (p Plan) Validate() error {
	switch {
	case p.Points < 1:
		return fmt.Errorf("%w: need at least one point, got %d", ErrInvalidPlan, p.Points)
	case p.SpacingStart <= 0:
		return fmt.Errorf("%w: spacing start must be positive", ErrInvalidPlan)
	case p.SpacingStop < p.SpacingStart:
		return fmt.Errorf("%w: spacing stop %g below start %g", ErrInvalidPlan, p.SpacingStop, p.SpacingStart)
	case p.Center-3*p.SpacingStop/2 <= 0:
		return fmt.Errorf("%w: lower IM3 product at %g Hz", ErrInvalidPlan, p.Center-3*p.SpacingStop/2)
	}
	return nil
}

// Spacings returns the swept tone spacings.
func (p Plan) Spacings() []float64 {
	if p.Points <= 1 {
		return []float64{p.SpacingStart}
	}
	return floats.Span(make([]float64, p.Points), p.SpacingStart, p.SpacingStop)
}

// Frequencies returns (numerator/2)*d + fc for every swept spacing d.
func (p Plan) Frequencies(numerator int) []float64 {
	d := p.Spacings()
	out := make([]float64, len(d))
	floats.ScaleTo(out, float64(numerator)/Denominator, d)
	floats.AddConst(p.Center, out)
	return out
}

func (p Plan) LowerTone() []float64 { return p.Frequencies(-1) }
func (p Plan) UpperTone() []float64 { return p.Frequencies(1) }
func (p Plan) LowerIM3() []float64  { return p.Frequencies(-3) }
func (p Plan) UpperIM3() []float64  { return p.Frequencies(3) }

// Range returns the lowest and highest frequency the sweep touches.
func (p Plan) Range() (lo, hi float64) {
	return floats.Min(p.LowerIM3()), floats.Max(p.UpperIM3())
}

// Channel is the conversion setup of one measurement channel.
type Channel struct {
	Name      string
	Numerator int
	// LOHigh selects the upper sideband (LO above RF).
	LOHigh bool
}

// Channels lists the four IM channels in setup order. The lower tone
// channel comes first; it carries the source configuration.
func Channels() []Channel {
	return []Channel{
		{Name: "TL", Numerator: -1, LOHigh: false},
		{Name: "TU", Numerator: 1, LOHigh: true},
		{Name: "IM3L", Numerator: -3, LOHigh: false},
		{Name: "IM3U", Numerator: 3, LOHigh: true},
	}
}

// Segment is one linear segment of a segmented sweep.
type Segment struct {
	Start  float64
	Stop   float64
	Points int
	IFBW   float64
	Power  float64
}

// CalSegments returns the segmented fundamental sweep that covers every
// frequency of the plan, for calibrating all four channels at once. Order:
// upper IM3, upper tone, lower tone, lower IM3.
func (p Plan) CalSegments(ifbw, power float64) []Segment {
	fc, d1, d2 := p.Center, p.SpacingStart, p.SpacingStop
	seg := func(start, stop float64) Segment {
		return Segment{Start: start, Stop: stop, Points: p.Points, IFBW: ifbw, Power: power}
	}
	return []Segment{
		seg(fc+3*d1/2, fc+3*d2/2),
		seg(fc+d1/2, fc+d2/2),
		seg(fc-d2/2, fc-d1/2),
		seg(fc-3*d2/2, fc-3*d1/2),
	}
}
