package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liuscraft/orion-duck/internal/logging"
)

var (
	// ErrSurfaceNotReady means the surface exists but cannot take commands yet.
	ErrSurfaceNotReady = errors.New("surface not ready")
)

// RemoteSurface is a write-only, possibly delayed command sink, e.g. an embedded
// player driven through a page bridge. SetVolume must not block. A nil error means
// the command was handed off; it does not mean the player applied it.
type RemoteSurface interface {
	SetVolume(value float64) error
}

// VolumeReporter is optionally implemented by surfaces that can report the volume
// the player last claimed to have. Used only for verification logging.
type VolumeReporter interface {
	ReportedVolume() (float64, bool)
}

// RemoteChannelConfig 远程通道参数
type RemoteChannelConfig struct {
	// ResyncBurst 强制重同步后追加重发的延迟
	ResyncBurst []time.Duration
}

func DefaultRemoteChannelConfig() RemoteChannelConfig {
	return RemoteChannelConfig{
		ResyncBurst: []time.Duration{
			50 * time.Millisecond,
			150 * time.Millisecond,
			300 * time.Millisecond,
		},
	}
}

// RemoteVolumeChannel converges a latency-bearing surface to a target volume by
// re-asserting it: immediately on change, on every Tick while unconfirmed, and in a
// short burst after ForceResync. Safe for concurrent use.
type RemoteVolumeChannel struct {
	name    string
	log     logging.Scoped
	cfg     RemoteChannelConfig
	clock   clock.Clock
	mu      sync.Mutex
	surface RemoteSurface

	target     float64
	hasTarget  bool
	muted      bool
	lastValue  float64
	hasLast    bool
	generation uint64
	burst      []*clock.Timer
}

func NewRemoteVolumeChannel(name string, cfg RemoteChannelConfig, clk clock.Clock) *RemoteVolumeChannel {
	if cfg.ResyncBurst == nil {
		cfg.ResyncBurst = DefaultRemoteChannelConfig().ResyncBurst
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RemoteVolumeChannel{
		name:  name,
		log:   logging.ForChannel(name),
		cfg:   cfg,
		clock: clk,
	}
}

// Attach 绑定新的远程表面；新表面状态未知，所以清空 lastApplied
func (c *RemoteVolumeChannel) Attach(surface RemoteSurface) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelBurstLocked()
	c.surface = surface
	c.hasLast = false
	c.log.Infof("RemoteVolumeChannel: surface attached")
	if c.hasEffectiveLocked() {
		c.applyLocked()
	}
}

// Detach 解绑表面并取消所有未触发的重同步定时器
func (c *RemoteVolumeChannel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelBurstLocked()
	if c.surface != nil {
		c.log.Infof("RemoteVolumeChannel: surface detached")
	}
	c.surface = nil
	c.hasLast = false
}

// Reset detaches and forgets the target, as when the user clears the channel.
func (c *RemoteVolumeChannel) Reset() {
	c.Detach()
	c.mu.Lock()
	c.hasTarget = false
	c.target = 0
	c.muted = false
	c.mu.Unlock()
}

// SetTarget 更新目标音量；与上次目标相同则不做任何事
func (c *RemoteVolumeChannel) SetTarget(value float64) {
	value = clampUnit(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasTarget && c.target == value {
		return
	}
	c.target = value
	c.hasTarget = true
	if c.inSyncLocked() {
		return
	}
	c.applyLocked()
}

// SetMuted sends 0 while muted and restores the stored target afterwards.
func (c *RemoteVolumeChannel) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.muted == muted {
		return
	}
	c.muted = muted
	if (c.hasTarget || muted) && !c.inSyncLocked() {
		c.applyLocked()
	}
}

// Tick is the periodic backstop: it re-applies whenever the last dispatched value
// differs from the effective target.
func (c *RemoteVolumeChannel) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface == nil || !c.hasEffectiveLocked() {
		return
	}
	if c.inSyncLocked() {
		return
	}
	c.applyLocked()
}

// ForceResync re-applies now and again after each burst delay. Used right after
// the surface changes playback state, when a single command is often swallowed.
func (c *RemoteVolumeChannel) ForceResync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelBurstLocked()
	c.hasLast = false
	if c.surface == nil || !c.hasEffectiveLocked() {
		return
	}
	c.applyLocked()

	gen := c.generation
	for _, delay := range c.cfg.ResyncBurst {
		timer := c.clock.AfterFunc(delay, func() {
			c.reapply(gen)
		})
		c.burst = append(c.burst, timer)
	}
}

func (c *RemoteVolumeChannel) reapply(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 定时器已被取消或通道已换表面
	if gen != c.generation || c.surface == nil {
		return
	}
	c.applyLocked()
}

func (c *RemoteVolumeChannel) cancelBurstLocked() {
	c.generation++
	for _, timer := range c.burst {
		timer.Stop()
	}
	c.burst = nil
}

func (c *RemoteVolumeChannel) hasEffectiveLocked() bool {
	return c.hasTarget || c.muted
}

func (c *RemoteVolumeChannel) effectiveLocked() float64 {
	if c.muted {
		return 0
	}
	return c.target
}

// inSyncLocked 表面已确认收到当前有效值（静音时为 0）
func (c *RemoteVolumeChannel) inSyncLocked() bool {
	return c.hasLast && c.lastValue == c.effectiveLocked()
}

func (c *RemoteVolumeChannel) applyLocked() {
	if c.surface == nil {
		return
	}
	value := c.effectiveLocked()
	if err := c.surface.SetVolume(value); err != nil {
		c.log.Debugf("RemoteVolumeChannel: apply %.3f skipped: %v", value, err)
		return
	}
	c.lastValue = value
	c.hasLast = true
}

// LastApplied returns the last value handed to the surface, if any.
func (c *RemoteVolumeChannel) LastApplied() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastValue, c.hasLast
}

func (c *RemoteVolumeChannel) Target() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.hasTarget
}

func (c *RemoteVolumeChannel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}

// PendingResyncs reports the size of the current burst timer group.
func (c *RemoteVolumeChannel) PendingResyncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.burst)
}

func (c *RemoteVolumeChannel) Surface() RemoteSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface
}
