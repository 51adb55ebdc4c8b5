package audio

import "math"

// GainCurveConfig 增益曲线参数
type GainCurveConfig struct {
	// Smoothing 每个 tick 向目标靠近的比例 (0,1]
	Smoothing float64
	// MinStep 小于该差值时直接到位，避免无限逼近
	MinStep float64
	// MaxStep 每个 tick 的最大变化量
	MaxStep float64
	// Knee 软饱和起点
	Knee float64
}

func DefaultGainCurveConfig() GainCurveConfig {
	return GainCurveConfig{
		Smoothing: 0.5,
		MinStep:   0.02,
		MaxStep:   0.25,
		Knee:      0.9,
	}
}

// GainCurve converts a logical 0-100 gain and a duck factor into the normalized
// value handed to a channel driver. It keeps the previously emitted value so that
// slider jumps are spread over several ticks. Not safe for concurrent use.
type GainCurve struct {
	cfg     GainCurveConfig
	last    float64
	hasLast bool
}

func NewGainCurve(cfg GainCurveConfig) *GainCurve {
	def := DefaultGainCurveConfig()
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.MinStep < 0 {
		cfg.MinStep = def.MinStep
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = def.MaxStep
	}
	if cfg.MaxStep < cfg.MinStep {
		cfg.MaxStep = cfg.MinStep
	}
	if cfg.Knee <= 0 || cfg.Knee >= 1 {
		cfg.Knee = def.Knee
	}
	return &GainCurve{cfg: cfg}
}

// Compute 计算本 tick 的输出值，结果总在 [0,1]
func (c *GainCurve) Compute(logicalGain float64, duckFactor float64) float64 {
	if logicalGain != logicalGain {
		logicalGain = 0
	}
	logicalGain = math.Max(0, math.Min(100, logicalGain))
	linear := logicalGain / 100 * clampUnit(duckFactor)

	smoothed := linear
	if c.hasLast {
		smoothed = c.step(c.last, linear)
	}
	c.last = smoothed
	c.hasLast = true

	return clampUnit(c.saturate(smoothed))
}

func (c *GainCurve) step(from, to float64) float64 {
	diff := to - from
	dist := math.Abs(diff)
	if dist == 0 {
		return to
	}
	delta := math.Max(c.cfg.Smoothing*dist, math.Min(dist, c.cfg.MinStep))
	delta = math.Min(delta, c.cfg.MaxStep)
	if delta >= dist {
		return to
	}
	if diff < 0 {
		return from - delta
	}
	return from + delta
}

func (c *GainCurve) saturate(x float64) float64 {
	knee := c.cfg.Knee
	if x <= knee {
		return x
	}
	span := 1 - knee
	return knee + span*math.Tanh((x-knee)/span)
}

// Last returns the pre-saturation value emitted on the previous tick.
func (c *GainCurve) Last() (float64, bool) {
	return c.last, c.hasLast
}

// Reset forgets the previous value so the next Compute jumps straight to its target.
func (c *GainCurve) Reset() {
	c.last = 0
	c.hasLast = false
}
