// Package indicator turns raw feed samples into a model.BarSeries with RSI,
// MACD and a parabolic SAR reference attached to every bar.
//
// The math is delegated to go-talib. This package only aligns the outputs
// with their warm-up windows so that values which are not yet computable are
// absent rather than zero.
package indicator

import (
	"math"
	"sort"

	"cryptosignal/internal/model"

	talib "github.com/markcheno/go-talib"
)

// Config holds indicator parameters.
type Config struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	SARAccel   float64
	SARMax     float64
}

// DefaultConfig returns 14-period RSI, 12/26/9 MACD and SAR 0.02/0.2.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		SARAccel:   0.02,
		SARMax:     0.2,
	}
}

// Computer computes indicator series. It holds only configuration and is
// safe for concurrent use.
type Computer struct {
	cfg Config
}

// NewComputer creates a Computer. Zero fields take their defaults.
func NewComputer(cfg Config) *Computer {
	def := DefaultConfig()
	if cfg.RSIPeriod < 2 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.MACDFast <= 0 {
		cfg.MACDFast = def.MACDFast
	}
	if cfg.MACDSlow <= 0 {
		cfg.MACDSlow = def.MACDSlow
	}
	if cfg.MACDSignal <= 0 {
		cfg.MACDSignal = def.MACDSignal
	}
	if cfg.SARAccel <= 0 {
		cfg.SARAccel = def.SARAccel
	}
	if cfg.SARMax <= 0 {
		cfg.SARMax = def.SARMax
	}
	return &Computer{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Computer) Config() Config { return c.cfg }

// MACDLookback is the index of the first bar with a MACD signal value.
func (c *Computer) MACDLookback() int {
	return (c.cfg.MACDSlow - 1) + (c.cfg.MACDSignal - 1)
}

// Compute builds a bar series from samples. Samples are sorted by time and
// duplicate timestamps collapse to the last one seen.
//
// PSAR uses talib's parabolic SAR when every sample has a high/low range,
// and falls back to the previous close otherwise.
func (c *Computer) Compute(samples []model.Sample) model.BarSeries {
	clean := Normalize(samples)
	n := len(clean)
	if n == 0 {
		return nil
	}

	series := make(model.BarSeries, n)
	closes := make([]float64, n)
	for i, s := range clean {
		series[i] = model.Bar{TS: s.TS, Close: s.Close}
		closes[i] = s.Close
	}

	if p := c.cfg.RSIPeriod; n > p {
		rsi := talib.Rsi(closes, p)
		for i := p; i < n; i++ {
			// talib reports 0 when gains and losses are both zero. Without
			// movement over the window RSI is undefined, not oversold.
			if rsi[i] == 0 && flat(closes[i-p : i+1]) {
				continue
			}
			series[i].RSI = present(rsi[i])
		}
	}

	if lb := c.MACDLookback(); n > lb {
		macd, signal, hist := talib.Macd(closes, c.cfg.MACDFast, c.cfg.MACDSlow, c.cfg.MACDSignal)
		for i := lb; i < n; i++ {
			series[i].MACD = present(macd[i])
			series[i].MACDSignal = present(signal[i])
			series[i].MACDHist = present(hist[i])
		}
	}

	if n > 1 {
		if highs, lows, ok := ranges(clean); ok {
			sar := talib.Sar(highs, lows, c.cfg.SARAccel, c.cfg.SARMax)
			for i := 1; i < n; i++ {
				series[i].PSAR = present(sar[i])
			}
		} else {
			for i := 1; i < n; i++ {
				series[i].PSAR = model.Some(closes[i-1])
			}
		}
	}

	return series
}

func flat(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Normalize returns a time-ordered copy of samples with duplicate timestamps
// removed (last wins) and non-positive or non-finite closes dropped.
func Normalize(samples []model.Sample) []model.Sample {
	out := make([]model.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Close <= 0 || math.IsInf(s.Close, 0) || math.IsNaN(s.Close) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	dedup := out[:0]
	for _, s := range out {
		if k := len(dedup); k > 0 && dedup[k-1].TS.Equal(s.TS) {
			dedup[k-1] = s
			continue
		}
		dedup = append(dedup, s)
	}
	return dedup
}

// ranges extracts high/low arrays, reporting false if any sample lacks them.
func ranges(samples []model.Sample) ([]float64, []float64, bool) {
	highs := make([]float64, len(samples))
	lows := make([]float64, len(samples))
	for i, s := range samples {
		h, okH := s.High.Get()
		l, okL := s.Low.Get()
		if !okH || !okL {
			return nil, nil, false
		}
		highs[i], lows[i] = h, l
	}
	return highs, lows, true
}

func present(v float64) model.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.None()
	}
	return model.Some(v)
}
