package audio

import "sync"

// LocalSurface is a playback engine with synchronous, immediate gain control.
type LocalSurface interface {
	SetGain(value float64)
}

// LocalGainChannel drives a LocalSurface. Mute outputs silence without touching
// the stored gain, so unmuting restores the previous level exactly.
type LocalGainChannel struct {
	name    string
	mu      sync.Mutex
	surface LocalSurface
	gain    float64
	hasGain bool
	muted   bool
	last    float64
	hasLast bool
}

func NewLocalGainChannel(name string) *LocalGainChannel {
	return &LocalGainChannel{name: name}
}

func (c *LocalGainChannel) Attach(surface LocalSurface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = surface
	c.hasLast = false
	if c.hasGain || c.muted {
		c.applyLocked()
	}
}

func (c *LocalGainChannel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = nil
	c.hasLast = false
}

// Reset silences the surface before dropping it: a local engine keeps playing at
// its last gain once nothing drives it.
func (c *LocalGainChannel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface != nil && !(c.hasLast && c.last == 0) {
		c.surface.SetGain(0)
	}
	c.surface = nil
	c.hasLast = false
	c.hasGain = false
	c.gain = 0
	c.muted = false
}

// SetGain 同步设置增益
func (c *LocalGainChannel) SetGain(value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = clampUnit(value)
	c.hasGain = true
	c.applyLocked()
}

func (c *LocalGainChannel) Mute(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.applyLocked()
}

func (c *LocalGainChannel) applyLocked() {
	if c.surface == nil {
		return
	}
	value := c.gain
	if c.muted {
		value = 0
	}
	if c.hasLast && c.last == value {
		return
	}
	c.surface.SetGain(value)
	c.last = value
	c.hasLast = true
}

func (c *LocalGainChannel) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

func (c *LocalGainChannel) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *LocalGainChannel) LastApplied() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

func (c *LocalGainChannel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}
