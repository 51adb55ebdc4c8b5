package audio

import (
	"math"
	"testing"
)

func TestGainCurveOutputAlwaysInRange(t *testing.T) {
	for g := -50.0; g <= 150; g += 2.5 {
		for _, duck := range []float64{-1, 0, 0.6, 1, 3} {
			curve := NewGainCurve(DefaultGainCurveConfig())
			for i := 0; i < 5; i++ {
				out := curve.Compute(g, duck)
				if out < 0 || out > 1 || math.IsNaN(out) {
					t.Fatalf("Compute(%v, %v) = %v out of [0,1]", g, duck, out)
				}
			}
		}
	}
}

func TestGainCurveNaNInput(t *testing.T) {
	curve := NewGainCurve(DefaultGainCurveConfig())
	if out := curve.Compute(math.NaN(), 1); out != 0 {
		t.Fatalf("NaN gain should map to 0, got %v", out)
	}
	if out := curve.Compute(50, math.NaN()); out < 0 || out > 1 {
		t.Fatalf("NaN duck factor produced %v", out)
	}
}

func TestGainCurveMonotonic(t *testing.T) {
	prev := -1.0
	for g := 0.0; g <= 100; g++ {
		curve := NewGainCurve(DefaultGainCurveConfig())
		out := curve.Compute(g, 1)
		if out < prev {
			t.Fatalf("curve not monotonic at %v: %v < %v", g, out, prev)
		}
		prev = out
	}
}

func TestGainCurveSaturation(t *testing.T) {
	curve := NewGainCurve(DefaultGainCurveConfig())
	testCases := []struct {
		name string
		gain float64
		want float64
	}{
		{"below knee is linear", 50, 0.5},
		{"knee", 90, 0.9},
		{"full scale is softened", 100, 0.9 + 0.1*math.Tanh(1)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			curve.Reset()
			got := curve.Compute(tc.gain, 1)
			if !approxEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestGainCurveSmoothsJumps(t *testing.T) {
	cfg := DefaultGainCurveConfig()
	curve := NewGainCurve(cfg)
	curve.Compute(0, 1)

	prev, _ := curve.Last()
	reached := false
	for i := 0; i < 20; i++ {
		curve.Compute(80, 1)
		last, _ := curve.Last()
		if last-prev > cfg.MaxStep+1e-9 {
			t.Fatalf("step %d moved %v, more than MaxStep %v", i, last-prev, cfg.MaxStep)
		}
		if last < prev {
			t.Fatalf("smoothing overshot backwards at step %d", i)
		}
		prev = last
		if last == 0.8 {
			reached = true
			break
		}
	}
	if !reached {
		t.Fatalf("curve never reached target, last=%v", prev)
	}
}

func TestGainCurveDuckFactorScales(t *testing.T) {
	curve := NewGainCurve(DefaultGainCurveConfig())
	got := curve.Compute(60, 0.6)
	if !approxEqual(got, 0.36) {
		t.Fatalf("expected 0.36, got %v", got)
	}
}

func TestNewGainCurveFixesBadConfig(t *testing.T) {
	curve := NewGainCurve(GainCurveConfig{Smoothing: 5, MinStep: -1, MaxStep: 0, Knee: 2})
	def := DefaultGainCurveConfig()
	if curve.cfg.Smoothing != def.Smoothing || curve.cfg.MaxStep != def.MaxStep || curve.cfg.Knee != def.Knee {
		t.Fatalf("invalid config not replaced: %+v", curve.cfg)
	}
}
