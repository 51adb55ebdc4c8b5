package audio

import (
	"slices"
	"time"

	"github.com/benbjohnson/clock"
)

// DuckState 自动闪避状态
type DuckState int

const (
	DuckIdle DuckState = iota
	DuckAttacking
	DuckDucked
	DuckReleasing
)

func (s DuckState) String() string {
	switch s {
	case DuckIdle:
		return "Idle"
	case DuckAttacking:
		return "Attacking"
	case DuckDucked:
		return "Ducked"
	case DuckReleasing:
		return "Releasing"
	default:
		return "Unknown"
	}
}

var duckTransitions = map[DuckState][]DuckState{
	DuckIdle:      {DuckAttacking},
	DuckAttacking: {DuckDucked, DuckReleasing, DuckIdle},
	DuckDucked:    {DuckReleasing, DuckIdle},
	DuckReleasing: {DuckAttacking, DuckIdle},
}

// DuckConfig 闪避包络参数
type DuckConfig struct {
	Enabled bool
	// Floor 完全闪避时的系数，0.6 即衰减 40%
	Floor   float64
	Attack  time.Duration
	Release time.Duration
	// MaxStep 单次推进的最大时间片，防止调度停顿后包络跳变
	MaxStep time.Duration
}

func DefaultDuckConfig() DuckConfig {
	return DuckConfig{
		Enabled: true,
		Floor:   0.6,
		Attack:  150 * time.Millisecond,
		Release: 800 * time.Millisecond,
		MaxStep: 200 * time.Millisecond,
	}
}

// DuckStateChangeHandler is invoked synchronously on every state transition.
// Handlers must not call back into the ducker or the mixer that owns it.
type DuckStateChangeHandler func(from, to DuckState, factor float64)

const envelopeEpsilon = 1e-9

// AutoDucker turns a speech level signal into a music gain factor using
// linear attack and release ramps. Not safe for concurrent use; the mixer
// serializes access.
type AutoDucker struct {
	cfg            DuckConfig
	clock          clock.Clock
	enabled        bool
	state          DuckState
	factor         float64
	lastTransition time.Time
	onChange       DuckStateChangeHandler
}

func NewAutoDucker(cfg DuckConfig, clk clock.Clock) *AutoDucker {
	def := DefaultDuckConfig()
	if cfg.Floor <= 0 || cfg.Floor >= 1 {
		cfg.Floor = def.Floor
	}
	if cfg.Attack < 0 {
		cfg.Attack = def.Attack
	}
	if cfg.Release < 0 {
		cfg.Release = def.Release
	}
	if clk == nil {
		clk = clock.New()
	}
	return &AutoDucker{
		cfg:            cfg,
		clock:          clk,
		enabled:        cfg.Enabled,
		state:          DuckIdle,
		factor:         1.0,
		lastTransition: clk.Now(),
	}
}

func (d *AutoDucker) OnStateChange(handler DuckStateChangeHandler) {
	d.onChange = handler
}

// CanTransition 检查状态转换是否合法
func (d *AutoDucker) CanTransition(to DuckState) bool {
	return slices.Contains(duckTransitions[d.state], to)
}

func (d *AutoDucker) transition(to DuckState) bool {
	if !d.CanTransition(to) {
		return false
	}
	from := d.state
	d.state = to
	d.lastTransition = d.clock.Now()
	if d.onChange != nil {
		d.onChange(from, to, d.factor)
	}
	return true
}

// Advance 用最新的语音电平推进包络 dt 时长，返回推进后的状态
func (d *AutoDucker) Advance(speech bool, dt time.Duration) DuckState {
	if !d.enabled {
		return d.state
	}
	if dt < 0 {
		dt = 0
	}
	if d.cfg.MaxStep > 0 && dt > d.cfg.MaxStep {
		dt = d.cfg.MaxStep
	}

	switch d.state {
	case DuckIdle:
		if speech {
			d.transition(DuckAttacking)
		}
	case DuckAttacking, DuckDucked:
		if !speech {
			d.transition(DuckReleasing)
		}
	case DuckReleasing:
		if speech {
			d.transition(DuckAttacking)
		}
	}

	depth := 1 - d.cfg.Floor
	switch d.state {
	case DuckAttacking:
		if d.cfg.Attack <= 0 {
			d.factor = d.cfg.Floor
		} else {
			d.factor -= depth * dt.Seconds() / d.cfg.Attack.Seconds()
		}
		if d.factor <= d.cfg.Floor+envelopeEpsilon {
			d.factor = d.cfg.Floor
			d.transition(DuckDucked)
		}
	case DuckReleasing:
		if d.cfg.Release <= 0 {
			d.factor = 1
		} else {
			d.factor += depth * dt.Seconds() / d.cfg.Release.Seconds()
		}
		if d.factor >= 1-envelopeEpsilon {
			d.factor = 1
			d.transition(DuckIdle)
		}
	}

	return d.state
}

// SetEnabled 关闭时立即回到 Idle 且系数恢复 1.0，不做渐变
func (d *AutoDucker) SetEnabled(enabled bool) {
	if d.enabled == enabled {
		return
	}
	d.enabled = enabled
	if enabled {
		return
	}
	d.factor = 1
	if d.state != DuckIdle {
		d.transition(DuckIdle)
	}
}

func (d *AutoDucker) Enabled() bool {
	return d.enabled
}

func (d *AutoDucker) State() DuckState {
	return d.state
}

func (d *AutoDucker) Factor() float64 {
	return d.factor
}

func (d *AutoDucker) Floor() float64 {
	return d.cfg.Floor
}

func (d *AutoDucker) LastTransition() time.Time {
	return d.lastTransition
}
